package forge

import "forgeledger.ai/internal/tuning"

// xpNeeded is the cost of the next level: level * xp_per_level, so levels
// get progressively slower.
func xpNeeded(level, xpPerLevel int) int {
	if level < 1 {
		level = 1
	}
	return level * xpPerLevel
}

// NewScalingState initializes progression for a freshly acquired scaling
// perk. Uncapped perks keep a max level number for display but never
// enforce it.
func NewScalingState(uncapped bool, tune tuning.Tuning) *ScalingState {
	return &ScalingState{
		Level:    1,
		XP:       0,
		MaxLevel: tune.Scaling.DefaultMaxLevel,
		Uncapped: uncapped,
	}
}

// AddXP applies an XP grant, carrying overflow across as many level-ups as
// it funds. At a hard cap the XP bar freezes full rather than banking
// overflow, so a later uncap does not retroactively cash in stale XP.
// It returns the number of levels gained.
func (s *ScalingState) AddXP(amount int, tune tuning.Tuning) int {
	if amount <= 0 {
		return 0
	}
	s.XP += amount
	gained := 0
	for {
		if !s.Uncapped && s.Level >= s.MaxLevel {
			need := xpNeeded(s.Level, tune.Scaling.XPPerLevel)
			if s.XP > need {
				s.XP = need
			}
			return gained
		}
		need := xpNeeded(s.Level, tune.Scaling.XPPerLevel)
		if s.XP < need {
			return gained
		}
		s.XP -= need
		s.Level++
		gained++
	}
}

// SetLevel is the authoritative path used when a snapshot reports a level
// outright. XP resets; capped perks clamp to max.
func (s *ScalingState) SetLevel(level int) {
	if level < 1 {
		level = 1
	}
	if !s.Uncapped && level > s.MaxLevel {
		level = s.MaxLevel
	}
	s.Level = level
	s.XP = 0
}

// Uncap flips the perk to unlimited progression. The max level number is
// kept for display; it just stops binding.
func (s *ScalingState) Uncap() {
	s.Uncapped = true
}
