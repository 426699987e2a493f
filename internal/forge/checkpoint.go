package forge

import (
	"fmt"
	"time"

	"forgeledger.ai/internal/tuning"
)

// Checkpoint is a full copy of the ledger core at a point in time. The
// checkpoint list is bounded FIFO: creating past capacity evicts the oldest.
type Checkpoint struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"created_at"`
	State     LedgerCore `json:"state"`
}

func (l *Ledger) CreateCheckpoint(label string, capacity int, now time.Time) Checkpoint {
	l.CheckpointSeq++
	if label == "" {
		label = fmt.Sprintf("Checkpoint at turn %d", l.TurnCount)
	}
	ck := Checkpoint{
		ID:        fmt.Sprintf("CKPT%06d", l.CheckpointSeq),
		Label:     label,
		CreatedAt: now.UTC(),
		State:     l.CloneCore(),
	}
	l.Checkpoints = append(l.Checkpoints, ck)
	if capacity > 0 && len(l.Checkpoints) > capacity {
		l.Checkpoints = l.Checkpoints[len(l.Checkpoints)-capacity:]
	}
	return ck
}

func (l *Ledger) FindCheckpoint(id string) *Checkpoint {
	for i := range l.Checkpoints {
		if l.Checkpoints[i].ID == id {
			return &l.Checkpoints[i]
		}
	}
	return nil
}

// RestoreCheckpoint replaces the live core with the checkpoint's copy. The
// checkpoint list itself is untouched, so a restore can be restored over.
func (l *Ledger) RestoreCheckpoint(id string, tune tuning.Tuning) error {
	ck := l.FindCheckpoint(id)
	if ck == nil {
		return fmt.Errorf("checkpoint %s: not found", id)
	}
	l.LedgerCore = ck.State.CloneCore()
	l.Recompute(tune)
	return nil
}

// DeleteCheckpoint reports whether anything was deleted; deleting an unknown
// id is not an error.
func (l *Ledger) DeleteCheckpoint(id string) bool {
	for i := range l.Checkpoints {
		if l.Checkpoints[i].ID == id {
			l.Checkpoints = append(l.Checkpoints[:i], l.Checkpoints[i+1:]...)
			return true
		}
	}
	return false
}
