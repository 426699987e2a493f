package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.PointsPerTurn != 10 || d.ThresholdCP != 100 {
		t.Fatalf("economy defaults: %+v", d)
	}
	if d.Scaling.XPPerLevel != 10 || d.Scaling.DefaultMaxLevel != 10 {
		t.Fatalf("scaling defaults: %+v", d.Scaling)
	}
	if d.Extract.MinPerkNameLen != 3 || d.Extract.MaxPerkCost != 2000 || d.Extract.MaxPointsGain != 500 {
		t.Fatalf("extract defaults: %+v", d.Extract)
	}
	if d.CheckpointCapacity != 10 {
		t.Fatalf("checkpoint capacity: %d", d.CheckpointCapacity)
	}
}

func TestLoad_PartialFileFillsZeros(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("points_per_turn: 25\nscaling:\n  default_max_level: 5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.PointsPerTurn != 25 {
		t.Fatalf("points_per_turn: %d", got.PointsPerTurn)
	}
	if got.Scaling.DefaultMaxLevel != 5 {
		t.Fatalf("default_max_level: %d", got.Scaling.DefaultMaxLevel)
	}
	if got.ThresholdCP != 100 || got.Scaling.XPPerLevel != 10 {
		t.Fatalf("unset fields should fall back: %+v", got)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(":\n -not yaml"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
