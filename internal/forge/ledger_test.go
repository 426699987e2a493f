package forge

import (
	"testing"

	"forgeledger.ai/internal/tuning"
)

func TestRecompute_DerivedFields(t *testing.T) {
	tune := tuning.Defaults()
	c := LedgerCore{
		TurnCount:   7,
		BonusPoints: 35,
		Perks:       []Perk{{Name: "A PERK", Cost: 40}, {Name: "B PERK", Cost: 25}},
	}
	c.Recompute(tune)
	if c.BasePoints != 70 || c.TotalPoints != 105 || c.SpentPoints != 65 || c.AvailablePoints != 40 {
		t.Fatalf("derived: %+v", c)
	}
	if c.ThresholdProgress != 5 {
		t.Fatalf("progress: %d", c.ThresholdProgress)
	}
}

func TestRecompute_NegativeTotalProgress(t *testing.T) {
	tune := tuning.Defaults()
	c := LedgerCore{TurnCount: 1, BonusPoints: -45}
	c.Recompute(tune)
	if c.TotalPoints != -35 {
		t.Fatalf("total: %d", c.TotalPoints)
	}
	if c.ThresholdProgress < 0 || c.ThresholdProgress >= tune.ThresholdCP {
		t.Fatalf("progress out of range: %d", c.ThresholdProgress)
	}
}

func TestFindPerk_CaseInsensitive(t *testing.T) {
	c := LedgerCore{Perks: []Perk{{Name: "Ember Sight"}}}
	if c.FindPerk("EMBER SIGHT") == nil {
		t.Fatalf("lookup should be case-insensitive")
	}
	if c.FindPerk("VOID HAMMER") != nil {
		t.Fatalf("unexpected match")
	}
}

func TestToggleable_FlagVariants(t *testing.T) {
	cases := []struct {
		flags []string
		want  bool
	}{
		{[]string{"TOGGLEABLE"}, true},
		{[]string{"toggle"}, true},
		{[]string{" Toggleable "}, true},
		{[]string{"PASSIVE"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		p := Perk{Flags: tc.flags}
		if p.Toggleable() != tc.want {
			t.Fatalf("flags %v: want %v", tc.flags, tc.want)
		}
	}
}

func TestActiveToggles(t *testing.T) {
	c := LedgerCore{Perks: []Perk{
		{Name: "EMBER SIGHT", Flags: []string{"TOGGLEABLE"}, Active: true},
		{Name: "VOID HAMMER", Flags: []string{"TOGGLEABLE"}, Active: false},
		{Name: "IRON SKIN", Flags: []string{"PASSIVE"}, Active: true},
	}}
	got := c.ActiveToggles()
	if len(got) != 1 || got[0] != "EMBER SIGHT" {
		t.Fatalf("got %v", got)
	}
}

func TestCloneCore_DeepCopies(t *testing.T) {
	c := LedgerCore{
		Perks:   []Perk{{Name: "QUANTUM ANVIL", Flags: []string{"SCALING"}, Scaling: &ScalingState{Level: 2, MaxLevel: 10}}},
		Pending: &PendingPerk{Name: "VOID HAMMER", Cost: 150, CPNeeded: 50},
	}
	cp := c.CloneCore()

	cp.Perks[0].Scaling.Level = 9
	cp.Perks[0].Flags[0] = "PASSIVE"
	cp.Pending.CPNeeded = 1

	if c.Perks[0].Scaling.Level != 2 {
		t.Fatalf("scaling shared")
	}
	if c.Perks[0].Flags[0] != "SCALING" {
		t.Fatalf("flags shared")
	}
	if c.Pending.CPNeeded != 50 {
		t.Fatalf("pending shared")
	}
}
