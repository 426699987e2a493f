package forge

import "regexp"

// Each pattern family is a named rule so families can be unit-tested on
// their own and a match can report which rule produced it. Scalar families
// overlap on purpose (narrators phrase awards inconsistently); the scraper
// suppresses overlapping spans within a family so one phrase is never
// counted twice.

type perkRule struct {
	name string
	re   *regexp.Regexp
	// submatch indexes; 0 means the rule does not capture that part
	nameIdx, costIdx, descIdx, flagsIdx int
}

var perkRules = []perkRule{
	// **PERK NAME** (XXX CP) - Description [FLAGS]
	{
		name:    "bold_decl",
		re:      regexp.MustCompile(`\*\*([A-Z][A-Z0-9\s\-']+)\*\*\s*\((\d+)\s*CP\)\s*[-–—:]\s*([^\[\n]*)(?:\[([^\]\n]+)\])?`),
		nameIdx: 1, costIdx: 2, descIdx: 3, flagsIdx: 4,
	},
	// [ACQUIRED: PERK NAME - XXX CP]
	{
		name:    "acquired_tag",
		re:      regexp.MustCompile(`(?i)\[ACQUIRED:\s*([A-Z][A-Z\s\-']+?)\s*[-–—]\s*(\d+)\s*CP\]`),
		nameIdx: 1, costIdx: 2,
	},
	// You gain **PERK NAME** (XXX CP)
	{
		name:    "gain_bold",
		re:      regexp.MustCompile(`(?i)(?:you\s+)?gain(?:ed|s)?\s+\*\*([A-Z][A-Z\s\-']+)\*\*\s*\((\d+)\s*CP\)`),
		nameIdx: 1, costIdx: 2,
	},
	// PERK NAME (XXX CP) [FLAGS] - at line start
	{
		name:    "line_decl",
		re:      regexp.MustCompile(`(?m)^([A-Z][A-Z\s\-']{2,})\s*\((\d+)\s*CP\)\s*(?:\[([^\]\n]+)\])?\s*[-–—:]\s*([^\[\n]*)`),
		nameIdx: 1, costIdx: 2, flagsIdx: 3, descIdx: 4,
	},
	// The Forge grants: PERK NAME (XXX CP)
	{
		name:    "grant_line",
		re:      regexp.MustCompile(`(?i)(?:forge\s+grants|acquired|unlocked|gained):\s*\*?\*?([A-Z][A-Z\s\-']+?)\*?\*?\s*\((\d+)\s*CP\)`),
		nameIdx: 1, costIdx: 2,
	},
}

type scalarRule struct {
	name     string
	re       *regexp.Regexp
	negative bool
}

var pointsRules = []scalarRule{
	{name: "plus_cp", re: regexp.MustCompile(`(?i)\+(\d+)\s*(?:Bonus\s*)?CP\b`)},
	{name: "award_cp", re: regexp.MustCompile(`(?i)Award:\s*\+?(\d+)\s*(?:Bonus\s*)?CP\b`)},
	{name: "resonance_cp", re: regexp.MustCompile(`(?i)\[FORGE\s+RESONANCE[^\]]*\][^+\n]*\+(\d+)\s*(?:Bonus\s*)?CP\b`)},
	{name: "verb_cp", re: regexp.MustCompile(`(?i)(?:gains?|earned?|receives?|awarded?)\s+(\d+)\s*(?:Bonus\s*)?CP\b`)},
}

var corruptionRules = []scalarRule{
	{name: "plus_corruption", re: regexp.MustCompile(`(?i)\+(\d+)\s*Corruption`)},
	{name: "corruption_colon", re: regexp.MustCompile(`(?i)Corruption:\s*\+(\d+)`)},
	{name: "minus_corruption", re: regexp.MustCompile(`(?i)[-–—](\d+)\s*Corruption`), negative: true},
}

var sanityRules = []scalarRule{
	{name: "plus_sanity", re: regexp.MustCompile(`(?i)\+(\d+)\s*Sanity\s*(?:Erosion|Cost)`)},
	{name: "sanity_colon", re: regexp.MustCompile(`(?i)Sanity\s*(?:Erosion|Cost):\s*\+(\d+)`)},
}

type xpRule struct {
	name               string
	re                 *regexp.Regexp
	nameIdx, amountIdx int
}

var xpRules = []xpRule{
	// QUANTUM ANVIL gains 15 XP
	{
		name:    "name_gains_xp",
		re:      regexp.MustCompile(`\b([A-Z][A-Z0-9\s\-']{2,}?)\s+gain(?:s|ed)?\s+(\d+)\s*XP\b`),
		nameIdx: 1, amountIdx: 2,
	},
	// +15 XP to QUANTUM ANVIL
	{
		name:    "plus_xp_to",
		re:      regexp.MustCompile(`\+(\d+)\s*XP\s+(?:to|for)\s+\*?\*?([A-Z][A-Z0-9\s\-']+?)\*?\*?(?:[.,!\n]|$)`),
		nameIdx: 2, amountIdx: 1,
	},
}

type toggleRule struct {
	name   string
	re     *regexp.Regexp
	active bool
}

var toggleRules = []toggleRule{
	{
		name:   "verb_activate",
		re:     regexp.MustCompile(`(?i)\b(?:activate|activates|activating|turn(?:s|ing)?\s+on|enable(?:s|d)?)\s+(?:your\s+)?(?:the\s+)?\*?\*?([A-Z][A-Za-z\s\-']+?)\*?\*?(?:[.,!\n]|$)`),
		active: true,
	},
	{
		name: "verb_deactivate",
		re:   regexp.MustCompile(`(?i)\b(?:deactivate|deactivates|deactivating|turn(?:s|ing)?\s+off|disable(?:s|d)?)\s+(?:your\s+)?(?:the\s+)?\*?\*?([A-Z][A-Za-z\s\-']+?)\*?\*?(?:[.,!\n]|$)`),
	},
	{
		name:   "prose_activate",
		re:     regexp.MustCompile(`\*\*([A-Z][A-Za-z\s\-']+?)\*\*\s+(?:flickers\s+to\s+life|awakens|activates|engages)`),
		active: true,
	},
	{
		name: "prose_deactivate",
		re:   regexp.MustCompile(`\*\*([A-Z][A-Za-z\s\-']+?)\*\*\s+(?:fades|recedes|deactivates|disengages)`),
	},
}

// stateBlockRe locates the fenced block the narrator uses to report
// machine-readable state.
var stateBlockRe = regexp.MustCompile("(?s)```forge-state[ \t]*\n(.*?)```")

// spanSet tracks claimed match intervals so overlapping rules within one
// family cannot double-count a single phrase.
type spanSet [][2]int

func (s *spanSet) claim(lo, hi int) bool {
	for _, sp := range *s {
		if lo < sp[1] && hi > sp[0] {
			return false
		}
	}
	*s = append(*s, [2]int{lo, hi})
	return true
}
