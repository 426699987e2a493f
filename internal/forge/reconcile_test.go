package forge

import (
	"testing"
	"time"

	"forgeledger.ai/internal/tuning"
)

func testClock() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func runTurn(t *testing.T, tune tuning.Tuning, l *Ledger, text string) []string {
	t.Helper()
	ext := Extractor{Tune: tune}
	rec := Reconciler{Tune: tune}
	changes := rec.Apply(l, ext.Extract(text), testClock())
	kinds := make([]string, 0, len(changes))
	for _, ch := range changes {
		kinds = append(kinds, ch.Kind)
	}
	return kinds
}

func countKind(kinds []string, want string) int {
	n := 0
	for _, k := range kinds {
		if k == want {
			n++
		}
	}
	return n
}

func TestReconcile_TurnAlwaysAdvances(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	runTurn(t, tune, &l, "Nothing of note happens.")
	if l.TurnCount != 1 || l.BasePoints != tune.PointsPerTurn {
		t.Fatalf("turn=%d base=%d", l.TurnCount, l.BasePoints)
	}
	if l.TotalPoints != l.BasePoints+l.BonusPoints {
		t.Fatalf("total invariant broken")
	}
}

func TestReconcile_EconomyInvariants(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	for i := 0; i < 12; i++ {
		runTurn(t, tune, &l, "+10 CP earned in passing")
	}
	if l.TotalPoints != l.BasePoints+l.BonusPoints {
		t.Fatalf("total: %d != %d + %d", l.TotalPoints, l.BasePoints, l.BonusPoints)
	}
	spent := 0
	for _, p := range l.Perks {
		spent += p.Cost
	}
	if l.SpentPoints != spent || l.AvailablePoints != l.TotalPoints-spent {
		t.Fatalf("spent/available mismatch: %+v", l.LedgerCore)
	}
	if l.ThresholdProgress != l.TotalPoints%tune.ThresholdCP {
		t.Fatalf("threshold progress: %d", l.ThresholdProgress)
	}
}

func TestReconcile_PendingResolution(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 9 // next turn earns up to 100 CP

	kinds := runTurn(t, tune, &l, "**VOID HAMMER** (150 CP) - Strikes at what is not there [SMITHING]")
	if l.Pending == nil || l.Pending.Cost != 150 || l.Pending.CPNeeded != 50 {
		t.Fatalf("pending: %+v", l.Pending)
	}
	if countKind(kinds, ChangePerkPending) != 1 {
		t.Fatalf("kinds: %v", kinds)
	}
	if len(l.Perks) != 0 {
		t.Fatalf("perk should not be acquired yet")
	}

	kinds = runTurn(t, tune, &l, "Award: +100 CP\n**VOID HAMMER** (150 CP) - Strikes at what is not there [SMITHING]")
	if len(l.Perks) != 1 || l.Perks[0].Name != "VOID HAMMER" {
		t.Fatalf("perks: %+v", l.Perks)
	}
	if l.Pending != nil {
		t.Fatalf("pending not cleared: %+v", l.Pending)
	}
	if countKind(kinds, ChangePerkAcquired) != 1 || countKind(kinds, ChangePendingCleared) != 1 {
		t.Fatalf("kinds: %v", kinds)
	}
}

func TestReconcile_ThresholdCatchUp(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 8 // 90 total after the turn increments to 9
	l.Recompute(tune)

	kinds := runTurn(t, tune, &l, "The vault cracks open. Award: +160 CP")
	if l.TotalPoints != 250 {
		t.Fatalf("total: %d", l.TotalPoints)
	}
	if l.LastThresholdCrossed != 2 {
		t.Fatalf("thresholds crossed: %d", l.LastThresholdCrossed)
	}
	if countKind(kinds, ChangeThresholdCrossed) != 2 {
		t.Fatalf("kinds: %v", kinds)
	}
	if !l.RollPending {
		t.Fatalf("roll should be armed after a crossing")
	}
}

func TestReconcile_SnapshotMergeIdempotent(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 20

	text := "```forge-state\n" +
		`{"characters":[{"stats":{"total_cp":400,"corruption":30,"sanity":15,
		  "perks":[{"name":"QUANTUM ANVIL","cost":200,"flags":["SCALING"],
		    "description":"Bends probability","scaling":{"level":3,"xp":5,"maxLevel":10,"uncapped":false}}]}}]}` +
		"\n```"

	runTurn(t, tune, &l, text)
	if len(l.Perks) != 1 || l.Corruption != 30 || l.Sanity != 15 {
		t.Fatalf("first merge: %+v", l.LedgerCore)
	}
	p := l.FindPerk("QUANTUM ANVIL")
	if p == nil || p.Scaling == nil || p.Scaling.Level != 3 || p.Scaling.XP != 5 {
		t.Fatalf("scaling: %+v", p)
	}

	runTurn(t, tune, &l, text)
	if len(l.Perks) != 1 {
		t.Fatalf("duplicate perk after re-merge: %+v", l.Perks)
	}
	p = l.FindPerk("QUANTUM ANVIL")
	if p.Scaling.Level != 3 || p.Scaling.XP != 5 {
		t.Fatalf("level drifted on re-merge: %+v", p.Scaling)
	}
	if l.TotalPoints != 400 {
		t.Fatalf("total should track reported value: %d", l.TotalPoints)
	}
}

func TestReconcile_SnapshotGaugesAbsolute(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.Corruption = 80
	l.Sanity = 90

	runTurn(t, tune, &l, "```forge-state\n"+
		`{"characters":[{"stats":{"corruption":150,"sanity":5,"perks":[]}}]}`+
		"\n```")
	if l.Corruption != 100 {
		t.Fatalf("corruption should clamp at 100: %d", l.Corruption)
	}
	if l.Sanity != 5 {
		t.Fatalf("sanity is absolute, not additive: %d", l.Sanity)
	}
}

func TestReconcile_SnapshotMergeDoesNotBlank(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 30
	l.Perks = []Perk{{Name: "EMBER SIGHT", Cost: 50, Description: "A rich local description", Flags: []string{"TOGGLEABLE"}, Active: true}}
	l.Recompute(tune)

	runTurn(t, tune, &l, "```forge-state\n"+
		`{"characters":[{"stats":{"perks":[{"name":"EMBER SIGHT","cost":50,"description":""}]}}]}`+
		"\n```")
	p := l.FindPerk("EMBER SIGHT")
	if p.Description != "A rich local description" {
		t.Fatalf("description blanked: %q", p.Description)
	}
	if len(l.Perks) != 1 {
		t.Fatalf("perks: %+v", l.Perks)
	}
}

func TestReconcile_NegativeAvailableSurfaced(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 10
	l.Perks = []Perk{{Name: "EMBER SIGHT", Cost: 50, Active: true}}
	l.Recompute(tune)

	// A cost correction on an existing perk can push spent past total.
	kinds := runTurn(t, tune, &l, "```forge-state\n"+
		`{"characters":[{"stats":{"perks":[{"name":"EMBER SIGHT","cost":500}]}}]}`+
		"\n```")
	if l.AvailablePoints >= 0 {
		t.Fatalf("expected negative available, got %d", l.AvailablePoints)
	}
	if countKind(kinds, ChangeNegativeAvailable) != 1 {
		t.Fatalf("kinds: %v", kinds)
	}
}

func TestReconcile_UncappedRetroactive(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 199 // plenty of CP
	l.Perks = []Perk{
		{Name: "QUANTUM ANVIL", Cost: 200, Flags: []string{"SCALING"}, Active: true, Scaling: &ScalingState{Level: 10, XP: 0, MaxLevel: 10}},
		{Name: "EMBER SIGHT", Cost: 50, Flags: []string{"SCALING"}, Active: true, Scaling: &ScalingState{Level: 10, XP: 0, MaxLevel: 10}},
	}
	l.Recompute(tune)

	kinds := runTurn(t, tune, &l, "**FORGE WITHOUT LIMIT** (300 CP) - The ceiling cracks [SCALING, UNCAPPED]")
	if !l.HasUncapped {
		t.Fatalf("uncapped latch not set")
	}
	for _, p := range l.Perks {
		if p.Scaling != nil && !p.Scaling.Uncapped {
			t.Fatalf("perk %s still capped", p.Name)
		}
	}
	if countKind(kinds, ChangeUncapped) != 2 {
		t.Fatalf("kinds: %v", kinds)
	}
}

func TestReconcile_NarrativeTogglesApplyToOwnedPerksOnly(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 10
	l.Perks = []Perk{
		{Name: "EMBER SIGHT", Cost: 50, Flags: []string{"TOGGLEABLE"}, Active: false},
		{Name: "IRON SKIN", Cost: 50, Flags: []string{"PASSIVE"}, Active: true},
	}
	l.Recompute(tune)

	kinds := runTurn(t, tune, &l, "You activate **EMBER SIGHT**. You also activate **IRON SKIN**. You activate **GHOST STEP**.")
	if p := l.FindPerk("EMBER SIGHT"); !p.Active {
		t.Fatalf("toggle not applied")
	}
	if countKind(kinds, ChangeToggle) != 1 {
		t.Fatalf("kinds: %v", kinds)
	}
}

func TestReconcile_NarrativeXPGain(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 10
	l.Perks = []Perk{
		{Name: "QUANTUM ANVIL", Cost: 50, Flags: []string{"SCALING"}, Active: true,
			Scaling: &ScalingState{Level: 1, XP: 0, MaxLevel: 10}},
	}
	l.Recompute(tune)

	kinds := runTurn(t, tune, &l, "QUANTUM ANVIL gains 25 XP from the resonance.")
	s := l.FindPerk("QUANTUM ANVIL").Scaling
	if s.Level != 2 || s.XP != 15 {
		t.Fatalf("scaling: %+v", s)
	}
	if countKind(kinds, ChangeXP) != 1 || countKind(kinds, ChangeLevel) != 1 {
		t.Fatalf("kinds: %v", kinds)
	}

	// Grants to unknown or non-scaling perks are ignored.
	kinds = runTurn(t, tune, &l, "+10 XP to GHOST STEP.")
	if countKind(kinds, ChangeXP) != 0 {
		t.Fatalf("kinds: %v", kinds)
	}
	if s.Level != 2 || s.XP != 15 {
		t.Fatalf("scaling drifted: %+v", s)
	}
}

func TestReconcile_DegradedBlockScrapesOnce(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	kinds := runTurn(t, tune, &l, "+5 Corruption\n```forge-state\nnot json at all\n```")
	if l.Corruption != 5 {
		t.Fatalf("corruption: %d", l.Corruption)
	}
	if countKind(kinds, ChangeDegraded) != 1 {
		t.Fatalf("kinds: %v", kinds)
	}
}

func TestReconcile_SnapshotClearsPending(t *testing.T) {
	tune := tuning.Defaults()
	l := NewLedger("chat_1", testClock())
	l.TurnCount = 10
	l.Pending = &PendingPerk{Name: "VOID HAMMER", Cost: 150, CPNeeded: 50}
	l.Recompute(tune)

	kinds := runTurn(t, tune, &l, "```forge-state\n"+
		`{"characters":[{"stats":{"perks":[]}}]}`+
		"\n```")
	if l.Pending != nil {
		t.Fatalf("pending not cleared: %+v", l.Pending)
	}
	if countKind(kinds, ChangePendingCleared) != 1 {
		t.Fatalf("kinds: %v", kinds)
	}
}
