package protocol

// HELLO (host -> tracker)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HostName        string `json:"host_name"`
	ThreadID        string `json:"thread_id,omitempty"`
}

// WELCOME (tracker -> host)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Economy         EconomyParams `json:"economy_params"`
}

type EconomyParams struct {
	PointsPerTurn   int `json:"points_per_turn"`
	ThresholdCP     int `json:"threshold_cp"`
	XPPerLevel      int `json:"xp_per_level"`
	DefaultMaxLevel int `json:"default_max_level"`
}

// TURN (host -> tracker): one narrator turn. MessageID must be monotonically
// increasing per thread; the tracker drops stale or repeated ids.
type TurnMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ThreadID        string `json:"thread_id"`
	MessageID       uint64 `json:"message_id"`
	Text            string `json:"text"`
}

// STATUS (tracker -> host): the injectable status block plus the machine
// snapshot of the ledger after the turn was reconciled.
type StatusMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	ThreadID        string        `json:"thread_id"`
	MessageID       uint64        `json:"message_id"`
	TurnCount       int           `json:"turn_count"`
	StatusBlock     string        `json:"status_block"`
	Snapshot        SnapshotBlock `json:"snapshot"`
	Changes         []Change      `json:"changes,omitempty"`
}

// Change is one entry of the reconciliation change log.
type Change struct {
	Kind   string `json:"kind"`
	Name   string `json:"name,omitempty"`
	Value  int    `json:"value,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Control operations.
const (
	OpCheckpointCreate  = "checkpoint_create"
	OpCheckpointRestore = "checkpoint_restore"
	OpCheckpointDelete  = "checkpoint_delete"
	OpToggle            = "toggle"
	OpAddPerk           = "add_perk"
	OpAddBonus          = "add_bonus"
	OpSetTotal          = "set_total"
	OpRoll              = "roll"
	OpReset             = "reset"
	OpArchiveList       = "archive_list"
	OpArchiveAcquire    = "archive_acquire"
)

// ArchiveEntry is one row of the cross-thread perk archive: how often a
// perk has ever been acquired, regardless of later resets or restores.
type ArchiveEntry struct {
	ThreadID          string `json:"thread_id"`
	Name              string `json:"name"`
	Cost              int    `json:"cost"`
	TimesAcquired     int    `json:"times_acquired"`
	FirstAcquiredTurn int    `json:"first_acquired_turn"`
	LastAcquiredAt    string `json:"last_acquired_at"`
}

// CONTROL (host -> tracker): manual ledger operations.
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ThreadID        string `json:"thread_id"`
	Op              string `json:"op"`

	Label        string   `json:"label,omitempty"`
	CheckpointID string   `json:"checkpoint_id,omitempty"`
	Name         string   `json:"name,omitempty"`
	Cost         int      `json:"cost,omitempty"`
	Description  string   `json:"description,omitempty"`
	Flags        []string `json:"flags,omitempty"`
	Amount       int      `json:"amount,omitempty"`
	Active       *bool    `json:"active,omitempty"`
}

// ACK (tracker -> host). Archive is set only for archive_list.
type AckMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	AckFor          string         `json:"ack_for"`
	Accepted        bool           `json:"accepted"`
	Code            string         `json:"code,omitempty"`
	Message         string         `json:"message,omitempty"`
	Archive         []ArchiveEntry `json:"archive,omitempty"`
}
