package forge

import (
	"fmt"
	"strings"
	"time"

	"forgeledger.ai/internal/protocol"
	"forgeledger.ai/internal/tuning"
)

// Reconciler folds one turn's Candidate into a ledger. It mutates the
// ledger in place and returns the change log; callers guarantee at most one
// call per distinct turn (replay protection lives in the session).
type Reconciler struct {
	Tune tuning.Tuning
}

func (r *Reconciler) Apply(l *Ledger, cand Candidate, now time.Time) []protocol.Change {
	var changes []protocol.Change

	// A turn that changes nothing still advances the economy clock.
	l.TurnCount++
	l.Recompute(r.Tune)

	if cand.DowngradeCode != "" {
		changes = append(changes, protocol.Change{Kind: ChangeDegraded, Detail: cand.DowngradeCode})
	}
	switch {
	case cand.Snapshot != nil:
		changes = r.mergeSnapshot(l, cand.Snapshot, changes)
	case cand.Delta != nil:
		changes = r.applyDelta(l, cand.Delta, changes)
	}

	changes = r.latchUncapped(l, changes)
	l.Recompute(r.Tune)

	// Catch-up loop: one event per crossed multiple, even when a single
	// turn jumps several thresholds.
	for l.TotalPoints/r.Tune.ThresholdCP > l.LastThresholdCrossed {
		l.LastThresholdCrossed++
		l.RollPending = true
		changes = append(changes, protocol.Change{
			Kind:  ChangeThresholdCrossed,
			Value: l.LastThresholdCrossed * r.Tune.ThresholdCP,
		})
	}

	if l.AvailablePoints < 0 {
		changes = append(changes, protocol.Change{
			Kind:   ChangeNegativeAvailable,
			Value:  l.AvailablePoints,
			Detail: "declared perks exceed earned points",
		})
	}

	l.UpdatedAt = now.UTC()
	return changes
}

// mergeSnapshot treats the embedded block as authoritative state. Absent
// fields are "no opinion": nothing local gets blanked, and perks missing
// from the block are not removed.
func (r *Reconciler) mergeSnapshot(l *Ledger, s *protocol.Snapshot, changes []protocol.Change) []protocol.Change {
	if s.TotalCP != nil {
		base := l.TurnCount * r.Tune.PointsPerTurn
		spent := 0
		for i := range l.Perks {
			spent += l.Perks[i].Cost
		}
		bonus := *s.TotalCP - base
		// The narrator cannot talk the thread into debt: rebasing never
		// pushes available below zero.
		if floor := spent - base; bonus < floor {
			bonus = floor
		}
		if bonus != l.BonusPoints {
			l.BonusPoints = bonus
			changes = append(changes, protocol.Change{Kind: ChangeRebase, Value: base + bonus})
		}
	}
	if s.Corruption != nil {
		if v := clampGauge(*s.Corruption); v != l.Corruption {
			l.Corruption = v
			changes = append(changes, protocol.Change{Kind: ChangeCorruption, Value: v, Detail: "absolute"})
		}
	}
	if s.Sanity != nil {
		if v := clampGauge(*s.Sanity); v != l.Sanity {
			l.Sanity = v
			changes = append(changes, protocol.Change{Kind: ChangeSanity, Value: v, Detail: "absolute"})
		}
	}

	for _, sp := range s.Perks {
		name := normalizePerkName(sp.Name)
		if name == "" {
			continue
		}
		if p := l.FindPerk(name); p != nil {
			changes = r.updatePerk(l, p, sp, changes)
			continue
		}
		decl := PerkDecl{
			Name:        name,
			Cost:        sp.Cost,
			Description: strings.TrimSpace(sp.Description),
			Flags:       normalizeFlags(sp.Flags),
		}
		changes = r.acquire(l, decl, sp.Scaling, sp.Active, changes)
	}

	if s.PendingPerk == "" {
		if l.Pending != nil {
			name := l.Pending.Name
			l.Pending = nil
			changes = append(changes, protocol.Change{Kind: ChangePendingCleared, Name: name})
		}
	} else if p := l.FindPerk(s.PendingPerk); p != nil {
		if l.Pending != nil {
			l.Pending = nil
			changes = append(changes, protocol.Change{Kind: ChangePendingCleared, Name: p.Name})
		}
	} else {
		cost := 0
		if l.Pending != nil && strings.EqualFold(l.Pending.Name, s.PendingPerk) {
			cost = l.Pending.Cost
		}
		np := PendingPerk{Name: s.PendingPerk, Cost: cost, CPNeeded: s.PendingCP}
		if l.Pending == nil || *l.Pending != np {
			l.Pending = &np
			changes = append(changes, protocol.Change{Kind: ChangePerkPending, Name: np.Name, Value: np.CPNeeded})
		}
	}
	return changes
}

func (r *Reconciler) updatePerk(l *Ledger, p *Perk, sp protocol.SnapshotPerk, changes []protocol.Change) []protocol.Change {
	if sp.Cost > 0 && sp.Cost != p.Cost {
		changes = append(changes, protocol.Change{Kind: ChangePerkUpdated, Name: p.Name, Value: sp.Cost, Detail: "cost"})
		p.Cost = sp.Cost
	}
	if d := strings.TrimSpace(sp.Description); d != "" {
		p.Description = d
	}
	for _, f := range normalizeFlags(sp.Flags) {
		if !HasFlag(p.Flags, f) {
			p.Flags = append(p.Flags, f)
		}
	}
	if sp.Active != nil && p.Toggleable() && *sp.Active != p.Active {
		p.Active = *sp.Active
		changes = append(changes, protocol.Change{Kind: ChangeToggle, Name: p.Name, Detail: onOff(p.Active)})
	}
	if sp.Scaling != nil {
		if p.Scaling == nil {
			p.Scaling = NewScalingState(l.HasUncapped, r.Tune)
		}
		before := p.Scaling.Level
		if sp.Scaling.MaxLevel > 0 {
			p.Scaling.MaxLevel = sp.Scaling.MaxLevel
		}
		if sp.Scaling.Uncapped {
			p.Scaling.Uncapped = true
		}
		lv := sp.Scaling.Level
		if lv < 1 {
			lv = 1
		}
		if !p.Scaling.Uncapped && lv > p.Scaling.MaxLevel {
			lv = p.Scaling.MaxLevel
		}
		p.Scaling.Level = lv
		if sp.Scaling.XP >= 0 {
			p.Scaling.XP = sp.Scaling.XP
		}
		if p.Scaling.Level != before {
			changes = append(changes, protocol.Change{Kind: ChangeLevel, Name: p.Name, Value: p.Scaling.Level, Detail: "reported"})
		}
	}
	return changes
}

func (r *Reconciler) applyDelta(l *Ledger, d *NarrativeDelta, changes []protocol.Change) []protocol.Change {
	if d.PointsDelta != 0 {
		l.BonusPoints += d.PointsDelta
		changes = append(changes, protocol.Change{Kind: ChangeBonusPoints, Value: d.PointsDelta})
	}
	if d.CorruptionDelta != 0 {
		if v := clampGauge(l.Corruption + d.CorruptionDelta); v != l.Corruption {
			l.Corruption = v
			changes = append(changes, protocol.Change{Kind: ChangeCorruption, Value: v, Detail: deltaDetail(d.CorruptionDelta)})
		}
	}
	if d.SanityDelta != 0 {
		if v := clampGauge(l.Sanity + d.SanityDelta); v != l.Sanity {
			l.Sanity = v
			changes = append(changes, protocol.Change{Kind: ChangeSanity, Value: v, Detail: deltaDetail(d.SanityDelta)})
		}
	}
	for _, decl := range d.NewPerks {
		if l.FindPerk(decl.Name) != nil {
			continue
		}
		changes = r.acquire(l, decl, nil, nil, changes)
	}
	for _, xg := range d.XPGains {
		p := l.FindPerk(xg.Name)
		if p == nil || p.Scaling == nil {
			continue
		}
		gained := p.Scaling.AddXP(xg.Amount, r.Tune)
		changes = append(changes, protocol.Change{Kind: ChangeXP, Name: p.Name, Value: xg.Amount})
		if gained > 0 {
			changes = append(changes, protocol.Change{Kind: ChangeLevel, Name: p.Name, Value: p.Scaling.Level, Detail: "xp"})
		}
	}
	for _, t := range d.Toggles {
		p := l.FindPerk(t.Name)
		if p == nil || !p.Toggleable() || p.Active == t.Active {
			continue
		}
		p.Active = t.Active
		changes = append(changes, protocol.Change{Kind: ChangeToggle, Name: p.Name, Detail: onOff(p.Active)})
	}
	return append(changes, d.Dropped...)
}

// acquire runs the affordability gate. An unaffordable perk becomes the
// single outstanding pending perk, overwriting any previous one.
func (r *Reconciler) acquire(l *Ledger, decl PerkDecl, snapScaling *protocol.SnapshotScaling, active *bool, changes []protocol.Change) []protocol.Change {
	l.Recompute(r.Tune)
	if decl.Cost > l.AvailablePoints {
		l.Pending = &PendingPerk{Name: decl.Name, Cost: decl.Cost, CPNeeded: decl.Cost - l.AvailablePoints}
		return append(changes, protocol.Change{
			Kind:   ChangePerkPending,
			Name:   decl.Name,
			Value:  l.Pending.CPNeeded,
			Detail: fmt.Sprintf("cost %d", decl.Cost),
		})
	}

	p := Perk{
		Name:        decl.Name,
		Cost:        decl.Cost,
		Description: decl.Description,
		Flags:       decl.Flags,
		Active:      true,
		AcquiredAt:  l.TurnCount,
	}
	if active != nil {
		p.Active = *active
	}
	if HasFlag(p.Flags, FlagScaling) || snapScaling != nil {
		p.Scaling = NewScalingState(l.HasUncapped || HasFlag(p.Flags, FlagUncapped), r.Tune)
		if snapScaling != nil {
			if snapScaling.MaxLevel > 0 {
				p.Scaling.MaxLevel = snapScaling.MaxLevel
			}
			if snapScaling.Uncapped {
				p.Scaling.Uncapped = true
			}
			if snapScaling.Level > 1 {
				p.Scaling.Level = snapScaling.Level
				if !p.Scaling.Uncapped && p.Scaling.Level > p.Scaling.MaxLevel {
					p.Scaling.Level = p.Scaling.MaxLevel
				}
			}
			if snapScaling.XP > 0 {
				p.Scaling.XP = snapScaling.XP
			}
		}
	}
	l.Perks = append(l.Perks, p)
	changes = append(changes, protocol.Change{Kind: ChangePerkAcquired, Name: p.Name, Value: p.Cost})

	if l.Pending != nil && strings.EqualFold(l.Pending.Name, p.Name) {
		l.Pending = nil
		changes = append(changes, protocol.Change{Kind: ChangePendingCleared, Name: p.Name})
	}
	l.Recompute(r.Tune)
	return changes
}

// latchUncapped makes the UNCAPPED flag retroactive and permanent: once any
// perk carries it, every scaling perk (existing and future) loses its cap in
// the same pass.
func (r *Reconciler) latchUncapped(l *Ledger, changes []protocol.Change) []protocol.Change {
	for i := range l.Perks {
		if HasFlag(l.Perks[i].Flags, FlagUncapped) {
			l.HasUncapped = true
			break
		}
	}
	if !l.HasUncapped {
		return changes
	}
	for i := range l.Perks {
		if s := l.Perks[i].Scaling; s != nil && !s.Uncapped {
			s.Uncap()
			changes = append(changes, protocol.Change{Kind: ChangeUncapped, Name: l.Perks[i].Name})
		}
	}
	return changes
}

func normalizeFlags(flags []string) []string {
	var out []string
	for _, f := range flags {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func onOff(active bool) string {
	if active {
		return "on"
	}
	return "off"
}

func deltaDetail(d int) string {
	return fmt.Sprintf("%+d", d)
}
