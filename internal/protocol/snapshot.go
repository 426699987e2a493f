package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SnapshotBlock is the payload of an embedded `forge-state` fenced block.
// The narrator reports state for one or more characters; only the first
// character carrying a stats object is tracked.
type SnapshotBlock struct {
	Characters []SnapshotCharacter `json:"characters"`
}

type SnapshotCharacter struct {
	Name  string         `json:"name,omitempty"`
	Stats *SnapshotStats `json:"stats,omitempty"`
}

// SnapshotStats mirrors the wire schema. Pointer fields distinguish "absent"
// (no opinion) from an explicit zero. Perks stays raw because legacy blocks
// encode it as a single "NAME (COST CP)|..." string instead of an array.
type SnapshotStats struct {
	TotalCP     *int            `json:"total_cp,omitempty"`
	AvailableCP *int            `json:"available_cp,omitempty"`
	Corruption  *int            `json:"corruption,omitempty"`
	Sanity      *int            `json:"sanity,omitempty"`
	PerkCount   *int            `json:"perk_count,omitempty"`
	PendingPerk string          `json:"pending_perk,omitempty"`
	PendingCP   int             `json:"pending_cp,omitempty"`
	Perks       json.RawMessage `json:"perks,omitempty"`
}

type SnapshotPerk struct {
	Name        string           `json:"name"`
	Cost        int              `json:"cost"`
	Flags       []string         `json:"flags,omitempty"`
	Description string           `json:"description,omitempty"`
	Toggleable  *bool            `json:"toggleable,omitempty"`
	Active      *bool            `json:"active,omitempty"`
	Scaling     *SnapshotScaling `json:"scaling,omitempty"`
}

type SnapshotScaling struct {
	Level    int  `json:"level"`
	XP       int  `json:"xp"`
	MaxLevel int  `json:"maxLevel"`
	Uncapped bool `json:"uncapped"`
}

// Snapshot is the canonical decoded form of one embedded block, with the
// legacy perk-string variant already normalized into SnapshotPerk records.
type Snapshot struct {
	TotalCP     *int
	Corruption  *int
	Sanity      *int
	PendingPerk string
	PendingCP   int
	Perks       []SnapshotPerk
}

func DecodeSnapshot(b []byte) (Snapshot, error) {
	var blk SnapshotBlock
	if err := json.Unmarshal(b, &blk); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot block: %w", err)
	}
	var stats *SnapshotStats
	for i := range blk.Characters {
		if blk.Characters[i].Stats != nil {
			stats = blk.Characters[i].Stats
			break
		}
	}
	if stats == nil {
		return Snapshot{}, fmt.Errorf("snapshot block: no character stats")
	}

	perks, err := decodePerks(stats.Perks)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		TotalCP:     stats.TotalCP,
		Corruption:  stats.Corruption,
		Sanity:      stats.Sanity,
		PendingPerk: strings.TrimSpace(stats.PendingPerk),
		PendingCP:   stats.PendingCP,
		Perks:       perks,
	}, nil
}

func decodePerks(raw json.RawMessage) ([]SnapshotPerk, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var perks []SnapshotPerk
	if err := json.Unmarshal(raw, &perks); err == nil {
		return perks, nil
	}
	var legacy string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("snapshot block: perks neither array nor string")
	}
	return parseLegacyPerks(legacy), nil
}

var legacyPerkRe = regexp.MustCompile(`^(.*?)\s*\((\d+)\s*CP\)$`)

// parseLegacyPerks splits a "NAME (COST CP)|NAME (COST CP)" string. Entries
// that don't match the shape are kept with cost 0 rather than dropped, so a
// sloppy narrator can't silently lose an acquired perk.
func parseLegacyPerks(s string) []SnapshotPerk {
	var out []SnapshotPerk
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := legacyPerkRe.FindStringSubmatch(part); m != nil {
			cost, _ := strconv.Atoi(m[2])
			out = append(out, SnapshotPerk{Name: strings.TrimSpace(m[1]), Cost: cost})
			continue
		}
		out = append(out, SnapshotPerk{Name: part})
	}
	return out
}
