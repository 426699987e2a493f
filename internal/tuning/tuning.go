package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	PointsPerTurn int `yaml:"points_per_turn"`
	ThresholdCP   int `yaml:"threshold_cp"`

	Scaling Scaling `yaml:"scaling"`
	Extract Extract `yaml:"extract"`

	CheckpointCapacity int `yaml:"checkpoint_capacity"`
}

type Scaling struct {
	XPPerLevel      int `yaml:"xp_per_level"`
	DefaultMaxLevel int `yaml:"default_max_level"`
}

type Extract struct {
	MinPerkNameLen int `yaml:"min_perk_name_len"`
	MaxPerkNameLen int `yaml:"max_perk_name_len"`
	MaxPerkCost    int `yaml:"max_perk_cost"`
	MaxPointsGain  int `yaml:"max_points_gain"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.fillZeros()
	return t, nil
}

// Defaults returns the tuning used when no tuning.yaml is present.
func Defaults() Tuning {
	var t Tuning
	t.fillZeros()
	return t
}

func (t *Tuning) fillZeros() {
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = "1.0"
	}
	if t.PointsPerTurn <= 0 {
		t.PointsPerTurn = 10
	}
	if t.ThresholdCP <= 0 {
		t.ThresholdCP = 100
	}
	if t.Scaling.XPPerLevel <= 0 {
		t.Scaling.XPPerLevel = 10
	}
	if t.Scaling.DefaultMaxLevel <= 0 {
		t.Scaling.DefaultMaxLevel = 10
	}
	if t.Extract.MinPerkNameLen <= 0 {
		t.Extract.MinPerkNameLen = 3
	}
	if t.Extract.MaxPerkNameLen <= 0 {
		t.Extract.MaxPerkNameLen = 99
	}
	if t.Extract.MaxPerkCost <= 0 {
		t.Extract.MaxPerkCost = 2000
	}
	if t.Extract.MaxPointsGain <= 0 {
		t.Extract.MaxPointsGain = 500
	}
	if t.CheckpointCapacity <= 0 {
		t.CheckpointCapacity = 10
	}
}
