package forge

import (
	"strconv"
	"strings"

	"forgeledger.ai/internal/protocol"
	"forgeledger.ai/internal/tuning"
)

// PerkDecl is one perk declaration scraped from narration.
type PerkDecl struct {
	Name        string
	Cost        int
	Description string
	Flags       []string
	Rule        string
}

type ToggleDecl struct {
	Name   string
	Active bool
}

// XPGain is a narrative XP grant to one named scaling perk.
type XPGain struct {
	Name   string
	Amount int
}

// NarrativeDelta is what a turn's prose claims happened, expressed as
// additive changes. Gauges are deltas here, unlike a snapshot where they
// are absolute.
type NarrativeDelta struct {
	NewPerks        []PerkDecl
	PointsDelta     int
	CorruptionDelta int
	SanityDelta     int
	XPGains         []XPGain
	Toggles         []ToggleDecl
	Dropped         []protocol.Change
}

// Candidate is the extractor's output: exactly one of Snapshot or Delta is
// set. DowngradeCode is non-empty when a state block was present but
// undecodable and the turn fell back to scraping.
type Candidate struct {
	Snapshot      *protocol.Snapshot
	Delta         *NarrativeDelta
	DowngradeCode string
}

type Extractor struct {
	Tune tuning.Tuning
}

// Extract parses one narrator turn. A well-formed embedded state block wins
// outright and the prose is ignored; a malformed block downgrades to one
// scraping pass over the same text. Scraping never runs alongside a decoded
// snapshot.
func (e *Extractor) Extract(text string) Candidate {
	if m := stateBlockRe.FindStringSubmatch(text); m != nil {
		snap, err := protocol.DecodeSnapshot([]byte(m[1]))
		if err == nil {
			return Candidate{Snapshot: &snap}
		}
		d := e.scrape(text)
		return Candidate{Delta: &d, DowngradeCode: protocol.ErrDecode}
	}
	d := e.scrape(text)
	return Candidate{Delta: &d}
}

func (e *Extractor) scrape(text string) NarrativeDelta {
	var d NarrativeDelta
	e.scrapePerks(text, &d)
	d.PointsDelta = e.scrapeScalar(text, pointsRules, e.Tune.Extract.MaxPointsGain, "cp_gain", &d)
	d.CorruptionDelta = e.scrapeScalar(text, corruptionRules, 100, "corruption", &d)
	d.SanityDelta = e.scrapeScalar(text, sanityRules, 100, "sanity", &d)
	e.scrapeXP(text, &d)
	e.scrapeToggles(text, &d)
	return d
}

func (e *Extractor) scrapePerks(text string, d *NarrativeDelta) {
	seen := map[string]bool{}
	var spans spanSet
	for _, rule := range perkRules {
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			if !spans.claim(m[0], m[1]) {
				continue
			}
			decl := PerkDecl{Rule: rule.name}
			decl.Name = normalizePerkName(group(text, m, rule.nameIdx))
			decl.Cost, _ = strconv.Atoi(group(text, m, rule.costIdx))
			decl.Description = strings.TrimSpace(group(text, m, rule.descIdx))
			if raw := group(text, m, rule.flagsIdx); raw != "" {
				decl.Flags = splitFlags(raw)
			}
			key := strings.ToLower(decl.Name)
			if seen[key] {
				continue
			}
			if code, detail := e.validatePerk(decl); code != "" {
				d.Dropped = append(d.Dropped, protocol.Change{
					Kind: ChangeDropped, Name: decl.Name, Value: decl.Cost, Detail: detail,
				})
				continue
			}
			seen[key] = true
			d.NewPerks = append(d.NewPerks, decl)
		}
	}
}

func (e *Extractor) validatePerk(p PerkDecl) (code, detail string) {
	n := len(p.Name)
	if n < e.Tune.Extract.MinPerkNameLen || n > e.Tune.Extract.MaxPerkNameLen {
		return protocol.ErrValidation, "name length out of bounds"
	}
	if p.Cost < 0 || p.Cost > e.Tune.Extract.MaxPerkCost {
		return protocol.ErrValidation, "cost out of bounds"
	}
	return "", ""
}

func (e *Extractor) scrapeScalar(text string, rules []scalarRule, maxGain int, what string, d *NarrativeDelta) int {
	total := 0
	var spans spanSet
	for _, rule := range rules {
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			if !spans.claim(m[0], m[1]) {
				continue
			}
			v, _ := strconv.Atoi(group(text, m, 1))
			if v <= 0 {
				continue
			}
			if v > maxGain {
				d.Dropped = append(d.Dropped, protocol.Change{
					Kind: ChangeDropped, Name: what, Value: v, Detail: "gain above cap",
				})
				continue
			}
			if rule.negative {
				v = -v
			}
			total += v
		}
	}
	return total
}

func (e *Extractor) scrapeXP(text string, d *NarrativeDelta) {
	var spans spanSet
	for _, rule := range xpRules {
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			if !spans.claim(m[0], m[1]) {
				continue
			}
			amount, _ := strconv.Atoi(group(text, m, rule.amountIdx))
			name := normalizePerkName(group(text, m, rule.nameIdx))
			if amount <= 0 || len(name) < e.Tune.Extract.MinPerkNameLen {
				continue
			}
			if amount > e.Tune.Extract.MaxPointsGain {
				d.Dropped = append(d.Dropped, protocol.Change{
					Kind: ChangeDropped, Name: name, Value: amount, Detail: "xp gain above cap",
				})
				continue
			}
			d.XPGains = append(d.XPGains, XPGain{Name: name, Amount: amount})
		}
	}
}

func (e *Extractor) scrapeToggles(text string, d *NarrativeDelta) {
	seen := map[string]bool{}
	for _, rule := range toggleRules {
		for _, m := range rule.re.FindAllStringSubmatch(text, -1) {
			name := strings.TrimSpace(m[1])
			if len(name) < e.Tune.Extract.MinPerkNameLen {
				continue
			}
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			d.Toggles = append(d.Toggles, ToggleDecl{Name: name, Active: rule.active})
		}
	}
}

func group(text string, m []int, idx int) string {
	if idx == 0 || 2*idx+1 >= len(m) || m[2*idx] < 0 {
		return ""
	}
	return text[m[2*idx]:m[2*idx+1]]
}

func normalizePerkName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitFlags(raw string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '/' }) {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
