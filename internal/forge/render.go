package forge

import (
	"encoding/json"
	"fmt"
	"strings"

	"forgeledger.ai/internal/protocol"
	"forgeledger.ai/internal/tuning"
)

// ToSnapshotBlock renders the ledger core in the same schema the extractor
// consumes, so a rendered status round-trips: extracting it and merging the
// result back produces no perk, gauge, or pending changes.
func ToSnapshotBlock(c *LedgerCore) protocol.SnapshotBlock {
	total := c.TotalPoints
	avail := c.AvailablePoints
	corruption := c.Corruption
	sanity := c.Sanity
	count := len(c.Perks)

	perks := make([]protocol.SnapshotPerk, 0, len(c.Perks))
	for i := range c.Perks {
		p := &c.Perks[i]
		sp := protocol.SnapshotPerk{
			Name:        p.Name,
			Cost:        p.Cost,
			Flags:       append([]string(nil), p.Flags...),
			Description: p.Description,
		}
		if p.Toggleable() {
			t := true
			a := p.Active
			sp.Toggleable = &t
			sp.Active = &a
		}
		if p.Scaling != nil {
			sp.Scaling = &protocol.SnapshotScaling{
				Level:    p.Scaling.Level,
				XP:       p.Scaling.XP,
				MaxLevel: p.Scaling.MaxLevel,
				Uncapped: p.Scaling.Uncapped,
			}
		}
		perks = append(perks, sp)
	}
	raw, _ := json.Marshal(perks)

	stats := &protocol.SnapshotStats{
		TotalCP:     &total,
		AvailableCP: &avail,
		Corruption:  &corruption,
		Sanity:      &sanity,
		PerkCount:   &count,
		Perks:       raw,
	}
	if c.Pending != nil {
		stats.PendingPerk = c.Pending.Name
		stats.PendingCP = c.Pending.CPNeeded
	}
	return protocol.SnapshotBlock{Characters: []protocol.SnapshotCharacter{{Stats: stats}}}
}

// RenderStatus builds the status block injected back into the narrator
// prompt: a plain-language summary followed by the machine-readable state
// block. Callers clear RollPending after rendering.
func RenderStatus(l *Ledger, tune tuning.Tuning) string {
	var b strings.Builder

	perkList := "None yet - the Forge awaits its first resonance."
	if len(l.Perks) > 0 {
		var lines []string
		for i := range l.Perks {
			p := &l.Perks[i]
			toggle := ""
			if p.Toggleable() {
				if p.Active {
					toggle = " [ACTIVE]"
				} else {
					toggle = " [INACTIVE]"
				}
			}
			level := ""
			if p.Scaling != nil {
				if p.Scaling.Uncapped {
					level = fmt.Sprintf(" [Lv %d, %d XP, uncapped]", p.Scaling.Level, p.Scaling.XP)
				} else {
					level = fmt.Sprintf(" [Lv %d/%d, %d XP]", p.Scaling.Level, p.Scaling.MaxLevel, p.Scaling.XP)
				}
			}
			lines = append(lines, fmt.Sprintf("%d. %s (%d CP)%s%s - %s [%s]",
				i+1, p.Name, p.Cost, toggle, level, p.Description, strings.Join(p.Flags, ", ")))
		}
		perkList = strings.Join(lines, "\n")
	}

	toggleList := "None active"
	if at := l.ActiveToggles(); len(at) > 0 {
		toggleList = strings.Join(at, ", ")
	}

	pendingText := "None"
	if l.Pending != nil {
		remaining := l.Pending.Cost - l.AvailablePoints
		if remaining > 0 {
			pendingText = fmt.Sprintf("%s (%d CP) - %d CP remaining to manifest", l.Pending.Name, l.Pending.Cost, remaining)
		} else {
			pendingText = fmt.Sprintf("%s (%d CP) - READY TO MANIFEST!", l.Pending.Name, l.Pending.Cost)
		}
	}

	var warnings strings.Builder
	switch {
	case l.Corruption >= 75:
		warnings.WriteString("\n[WARNING: High corruption - dark aesthetics intensifying]")
	case l.Corruption >= 50:
		warnings.WriteString("\n[Note: Moderate corruption - Dark Forge resonance strengthening]")
	}
	switch {
	case l.Sanity >= 75:
		warnings.WriteString("\n[WARNING: High sanity erosion - reality perception shifting]")
	case l.Sanity >= 50:
		warnings.WriteString("\n[Note: Moderate sanity erosion - Eldritch insights accumulating]")
	}

	fmt.Fprintf(&b, `[CELESTIAL FORGE - CURRENT STATUS]
Response Count: %d
Total CP Earned: %d | Available: %d
(Base: %d + Bonus: %d - Spent: %d)
Threshold Progress: %d/%d CP until next resonance

Corruption Level: %d/100
Sanity Erosion: %d/100%s

Pending Perk: %s
Currently Active Toggles: %s

ACQUIRED PERKS (%d):
%s

[The Forge tracks all. When generating perks, use format: **PERK NAME** (XXX CP) - Description [FLAGS] for auto-detection.]`,
		l.TurnCount,
		l.TotalPoints, l.AvailablePoints,
		l.BasePoints, l.BonusPoints, l.SpentPoints,
		l.ThresholdProgress, tune.ThresholdCP,
		l.Corruption,
		l.Sanity, warnings.String(),
		pendingText,
		toggleList,
		len(l.Perks),
		perkList,
	)

	blk := ToSnapshotBlock(&l.LedgerCore)
	raw, _ := json.Marshal(blk)
	fmt.Fprintf(&b, "\n\n```forge-state\n%s\n```", raw)

	if l.RollPending {
		fmt.Fprintf(&b, `

[CELESTIAL FORGE - ROLL TRIGGERED]
The Smith calls upon the Forge. Available CP: %d
Roll a constellation and generate an appropriate perk. Follow the generation guidelines.
If the rolled perk costs more than available CP, set it as PENDING.
[END FORGE TRIGGER]`, l.AvailablePoints)
	}
	return b.String()
}
