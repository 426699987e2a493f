package forge

import (
	"strings"
	"time"

	"forgeledger.ai/internal/tuning"
)

// Perk flags with tracker semantics. Free-form category tags are preserved
// for display but carry no logic.
const (
	FlagPassive    = "PASSIVE"
	FlagToggleable = "TOGGLEABLE"
	FlagAlwaysOn   = "ALWAYS-ON"
	FlagScaling    = "SCALING"
	FlagUncapped   = "UNCAPPED"
)

// Change log kinds (wire-visible via protocol.Change.Kind).
const (
	ChangePerkAcquired      = "perk_acquired"
	ChangePerkUpdated       = "perk_updated"
	ChangePerkPending       = "perk_pending"
	ChangePendingCleared    = "pending_cleared"
	ChangeBonusPoints       = "bonus_points"
	ChangeRebase            = "rebase"
	ChangeCorruption        = "corruption"
	ChangeSanity            = "sanity"
	ChangeToggle            = "toggle"
	ChangeXP                = "xp"
	ChangeLevel             = "level"
	ChangeUncapped          = "uncapped"
	ChangeThresholdCrossed  = "threshold_crossed"
	ChangeNegativeAvailable = "negative_available"
	ChangeDropped           = "dropped"
	ChangeDegraded          = "degraded"
)

type ScalingState struct {
	Level    int  `json:"level"`
	XP       int  `json:"xp"`
	MaxLevel int  `json:"max_level"`
	Uncapped bool `json:"uncapped"`
}

type Perk struct {
	Name        string        `json:"name"`
	Cost        int           `json:"cost"`
	Description string        `json:"description"`
	Flags       []string      `json:"flags,omitempty"`
	Active      bool          `json:"active"`
	Scaling     *ScalingState `json:"scaling,omitempty"`
	AcquiredAt  int           `json:"acquired_at"`
}

func (p *Perk) Toggleable() bool {
	for _, f := range p.Flags {
		u := strings.ToUpper(strings.TrimSpace(f))
		if u == FlagToggleable || u == "TOGGLE" {
			return true
		}
	}
	return false
}

func HasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(strings.TrimSpace(f), want) {
			return true
		}
	}
	return false
}

type PendingPerk struct {
	Name     string `json:"name"`
	Cost     int    `json:"cost"`
	CPNeeded int    `json:"cp_needed"`
}

// LedgerCore is the mutable portion of a ledger: everything a checkpoint
// captures. The Base/Spent/Total/Available/ThresholdProgress fields are
// derived and recomputed after every mutation; stored values are never
// trusted (restores and DB loads recompute).
type LedgerCore struct {
	TurnCount            int          `json:"turn_count"`
	BonusPoints          int          `json:"bonus_points"`
	Corruption           int          `json:"corruption"`
	Sanity               int          `json:"sanity"`
	Perks                []Perk       `json:"perks"`
	Pending              *PendingPerk `json:"pending_perk,omitempty"`
	LastThresholdCrossed int          `json:"last_threshold_crossed"`
	HasUncapped          bool         `json:"has_uncapped"`
	RollPending          bool         `json:"roll_pending,omitempty"`

	BasePoints        int `json:"base_points"`
	SpentPoints       int `json:"spent_points"`
	TotalPoints       int `json:"total_points"`
	AvailablePoints   int `json:"available_points"`
	ThresholdProgress int `json:"threshold_progress"`
}

// Ledger is the canonical economy state for one narrative thread.
type Ledger struct {
	ThreadID string `json:"thread_id"`
	LedgerCore

	Checkpoints   []Checkpoint `json:"checkpoints,omitempty"`
	CheckpointSeq uint64       `json:"checkpoint_seq"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewLedger(threadID string, now time.Time) Ledger {
	return Ledger{ThreadID: threadID, CreatedAt: now.UTC(), UpdatedAt: now.UTC()}
}

// Recompute is the economy calculator: it rederives every derived field from
// the primitive ones. AvailablePoints may come out negative; that is a
// data-quality signal surfaced by the reconciler, not clamped here.
func (c *LedgerCore) Recompute(tune tuning.Tuning) {
	c.BasePoints = c.TurnCount * tune.PointsPerTurn
	c.TotalPoints = c.BasePoints + c.BonusPoints
	spent := 0
	for i := range c.Perks {
		spent += c.Perks[i].Cost
	}
	c.SpentPoints = spent
	c.AvailablePoints = c.TotalPoints - c.SpentPoints
	c.ThresholdProgress = ((c.TotalPoints % tune.ThresholdCP) + tune.ThresholdCP) % tune.ThresholdCP
}

// FindPerk looks a perk up by its case-insensitive name key.
func (c *LedgerCore) FindPerk(name string) *Perk {
	for i := range c.Perks {
		if strings.EqualFold(c.Perks[i].Name, name) {
			return &c.Perks[i]
		}
	}
	return nil
}

// ActiveToggles is the derived view {p.Name | p toggleable and active}.
func (c *LedgerCore) ActiveToggles() []string {
	var out []string
	for i := range c.Perks {
		if c.Perks[i].Toggleable() && c.Perks[i].Active {
			out = append(out, c.Perks[i].Name)
		}
	}
	return out
}

func clampGauge(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// CloneCore deep-copies the mutable portion of the ledger. The checkpoint
// list itself is never part of a core copy.
func (c *LedgerCore) CloneCore() LedgerCore {
	cp := *c
	cp.Perks = make([]Perk, len(c.Perks))
	for i := range c.Perks {
		cp.Perks[i] = c.Perks[i]
		if s := c.Perks[i].Scaling; s != nil {
			sc := *s
			cp.Perks[i].Scaling = &sc
		}
		cp.Perks[i].Flags = append([]string(nil), c.Perks[i].Flags...)
	}
	if c.Pending != nil {
		p := *c.Pending
		cp.Pending = &p
	}
	return cp
}
