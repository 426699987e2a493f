package forge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"forgeledger.ai/internal/protocol"
	"forgeledger.ai/internal/tuning"
)

// Store is the persistence port. The registry calls it from its own
// goroutine only; implementations handle their own write serialization.
type Store interface {
	LoadLedger(threadID string) (*Ledger, uint64, error)
	SaveLedger(l *Ledger, lastMessageID uint64)
	RecordAcquisition(threadID, name string, cost, turn int)
	SearchArchive(query string) ([]protocol.ArchiveEntry, error)
}

// TurnLogger receives one record per reconciled turn for audit/replay.
type TurnLogger interface {
	Log(rec any)
}

type TurnRequest struct {
	Turn protocol.TurnMsg
	Resp chan TurnResult
}

type TurnResult struct {
	Status   protocol.StatusMsg
	Code     string
	Replayed bool
}

type ControlRequest struct {
	Msg  protocol.ControlMsg
	Resp chan protocol.AckMsg
}

type threadState struct {
	ledger        Ledger
	lastMessageID uint64
	lastStatus    *protocol.StatusMsg
}

// Registry owns every thread ledger and serializes all mutations through
// its run loop, so no two turns for one thread ever interleave.
type Registry struct {
	tune tuning.Tuning
	log  *log.Logger

	rec  Reconciler
	ext  Extractor
	now  func() time.Time

	threads map[string]*threadState

	turns    chan TurnRequest
	controls chan ControlRequest
	stop     chan struct{}

	store    Store
	turnLog  TurnLogger
	auditLog TurnLogger

	nextSession atomic.Uint64
}

func NewRegistry(tune tuning.Tuning, store Store, turnLog, auditLog TurnLogger, logger *log.Logger) *Registry {
	return &Registry{
		tune:     tune,
		log:      logger,
		rec:      Reconciler{Tune: tune},
		ext:      Extractor{Tune: tune},
		now:      time.Now,
		threads:  map[string]*threadState{},
		turns:    make(chan TurnRequest, 64),
		controls: make(chan ControlRequest, 16),
		stop:     make(chan struct{}),
		store:    store,
		turnLog:  turnLog,
		auditLog: auditLog,
	}
}

func (g *Registry) Turns() chan<- TurnRequest       { return g.turns }
func (g *Registry) Controls() chan<- ControlRequest { return g.controls }
func (g *Registry) Stop()                           { close(g.stop) }

func (g *Registry) NewSessionID() string {
	return fmt.Sprintf("S%06d", g.nextSession.Add(1))
}

func (g *Registry) EconomyParams() protocol.EconomyParams {
	return protocol.EconomyParams{
		PointsPerTurn:   g.tune.PointsPerTurn,
		ThresholdCP:     g.tune.ThresholdCP,
		XPPerLevel:      g.tune.Scaling.XPPerLevel,
		DefaultMaxLevel: g.tune.Scaling.DefaultMaxLevel,
	}
}

func (g *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stop:
			return nil
		case req := <-g.turns:
			req.Resp <- g.handleTurn(req.Turn)
		case req := <-g.controls:
			req.Resp <- g.handleControl(req.Msg)
		}
	}
}

func (g *Registry) thread(id string) *threadState {
	st := g.threads[id]
	if st != nil {
		return st
	}
	st = &threadState{}
	if g.store != nil {
		if l, lastID, err := g.store.LoadLedger(id); err != nil {
			g.log.Printf("statedb: load thread %s: %v", id, err)
		} else if l != nil {
			l.Recompute(g.tune)
			st.ledger = *l
			st.lastMessageID = lastID
		}
	}
	if st.ledger.ThreadID == "" {
		st.ledger = NewLedger(id, g.now())
	}
	g.threads[id] = st
	return st
}

// handleTurn is the only place a narrator turn mutates a ledger. Replay of
// the last message id returns the cached status without reconciling again;
// anything older is rejected as stale.
func (g *Registry) handleTurn(turn protocol.TurnMsg) TurnResult {
	if turn.ThreadID == "" {
		return TurnResult{Code: protocol.ErrBadRequest}
	}
	st := g.thread(turn.ThreadID)

	if turn.MessageID <= st.lastMessageID {
		if turn.MessageID == st.lastMessageID && st.lastStatus != nil {
			return TurnResult{Status: *st.lastStatus, Replayed: true}
		}
		return TurnResult{Code: protocol.ErrStaleTurn}
	}

	cand := g.ext.Extract(turn.Text)
	changes := g.rec.Apply(&st.ledger, cand, g.now())
	status := g.finishMutation(st, turn.MessageID, changes)

	if g.turnLog != nil {
		g.turnLog.Log(map[string]any{
			"thread_id":  turn.ThreadID,
			"message_id": turn.MessageID,
			"turn_count": st.ledger.TurnCount,
			"changes":    changes,
			"degraded":   cand.DowngradeCode,
		})
	}
	if g.store != nil {
		for _, ch := range changes {
			if ch.Kind == ChangePerkAcquired {
				g.store.RecordAcquisition(turn.ThreadID, ch.Name, ch.Value, st.ledger.TurnCount)
			}
		}
	}
	return TurnResult{Status: status}
}

// finishMutation renders, caches, and persists after any ledger change.
// RollPending is consumed by the render: the trigger text goes out exactly
// once.
func (g *Registry) finishMutation(st *threadState, messageID uint64, changes []protocol.Change) protocol.StatusMsg {
	block := RenderStatus(&st.ledger, g.tune)
	st.ledger.RollPending = false

	status := protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		ThreadID:        st.ledger.ThreadID,
		MessageID:       messageID,
		TurnCount:       st.ledger.TurnCount,
		StatusBlock:     block,
		Snapshot:        ToSnapshotBlock(&st.ledger.LedgerCore),
		Changes:         changes,
	}
	if messageID > 0 {
		st.lastMessageID = messageID
	}
	st.lastStatus = &status
	if g.store != nil {
		g.store.SaveLedger(&st.ledger, st.lastMessageID)
	}
	return status
}

func (g *Registry) handleControl(msg protocol.ControlMsg) protocol.AckMsg {
	nack := func(code, detail string) protocol.AckMsg {
		return protocol.AckMsg{
			Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
			AckFor: msg.Op, Accepted: false, Code: code, Message: detail,
		}
	}
	ok := func(detail string) protocol.AckMsg {
		if g.auditLog != nil {
			g.auditLog.Log(map[string]any{
				"thread_id": msg.ThreadID,
				"op":        msg.Op,
				"detail":    detail,
				"at":        g.now().UTC(),
			})
		}
		return protocol.AckMsg{
			Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
			AckFor: msg.Op, Accepted: true, Message: detail,
		}
	}
	if msg.ThreadID == "" {
		return nack(protocol.ErrBadRequest, "thread_id required")
	}
	st := g.thread(msg.ThreadID)
	l := &st.ledger
	now := g.now()

	switch msg.Op {
	case protocol.OpCheckpointCreate:
		ck := l.CreateCheckpoint(msg.Label, g.tune.CheckpointCapacity, now)
		g.finishMutation(st, 0, nil)
		return ok(ck.ID)

	case protocol.OpCheckpointRestore:
		if err := l.RestoreCheckpoint(msg.CheckpointID, g.tune); err != nil {
			return nack(protocol.ErrCheckpointNotFound, err.Error())
		}
		l.UpdatedAt = now.UTC()
		g.finishMutation(st, 0, nil)
		return ok(msg.CheckpointID)

	case protocol.OpCheckpointDelete:
		l.DeleteCheckpoint(msg.CheckpointID)
		g.finishMutation(st, 0, nil)
		return ok(msg.CheckpointID)

	case protocol.OpToggle:
		p := l.FindPerk(msg.Name)
		if p == nil {
			return nack(protocol.ErrBadRequest, "unknown perk")
		}
		if !p.Toggleable() {
			return nack(protocol.ErrBadRequest, "perk is not toggleable")
		}
		if msg.Active != nil {
			p.Active = *msg.Active
		} else {
			p.Active = !p.Active
		}
		g.finishMutation(st, 0, nil)
		return ok(onOff(p.Active))

	case protocol.OpAddPerk:
		name := normalizePerkName(msg.Name)
		if name == "" || msg.Cost < 0 {
			return nack(protocol.ErrBadRequest, "name required, cost must be >= 0")
		}
		if l.FindPerk(name) != nil {
			return nack(protocol.ErrBadRequest, "perk already acquired")
		}
		decl := PerkDecl{Name: name, Cost: msg.Cost, Description: strings.TrimSpace(msg.Description), Flags: normalizeFlags(msg.Flags)}
		changes := g.rec.acquire(l, decl, nil, nil, nil)
		changes = g.rec.latchUncapped(l, changes)
		l.Recompute(g.tune)
		l.UpdatedAt = now.UTC()
		g.finishMutation(st, 0, changes)
		if g.store != nil && l.FindPerk(name) != nil {
			g.store.RecordAcquisition(l.ThreadID, name, msg.Cost, l.TurnCount)
		}
		return ok(name)

	case protocol.OpAddBonus:
		l.BonusPoints += msg.Amount
		l.Recompute(g.tune)
		l.UpdatedAt = now.UTC()
		g.finishMutation(st, 0, nil)
		return ok(fmt.Sprintf("%+d", msg.Amount))

	case protocol.OpSetTotal:
		base := l.TurnCount * g.tune.PointsPerTurn
		bonus := msg.Amount - base
		if floor := l.SpentPoints - base; bonus < floor {
			bonus = floor
		}
		l.BonusPoints = bonus
		l.Recompute(g.tune)
		l.UpdatedAt = now.UTC()
		g.finishMutation(st, 0, nil)
		return ok(fmt.Sprintf("total %d", l.TotalPoints))

	case protocol.OpRoll:
		l.RollPending = true
		g.finishMutation(st, 0, nil)
		return ok("armed")

	case protocol.OpArchiveList:
		if g.store == nil {
			return nack(protocol.ErrBadRequest, "archive unavailable")
		}
		entries, err := g.store.SearchArchive(strings.TrimSpace(msg.Name))
		if err != nil {
			return nack(protocol.ErrInternal, err.Error())
		}
		a := ok(fmt.Sprintf("%d entries", len(entries)))
		a.Archive = entries
		return a

	case protocol.OpArchiveAcquire:
		if g.store == nil {
			return nack(protocol.ErrBadRequest, "archive unavailable")
		}
		name := normalizePerkName(msg.Name)
		if name == "" {
			return nack(protocol.ErrBadRequest, "name required")
		}
		if l.FindPerk(name) != nil {
			return nack(protocol.ErrBadRequest, "perk already acquired")
		}
		entries, err := g.store.SearchArchive(name)
		if err != nil {
			return nack(protocol.ErrInternal, err.Error())
		}
		var ent *protocol.ArchiveEntry
		for i := range entries {
			if strings.EqualFold(entries[i].Name, name) {
				ent = &entries[i]
				break
			}
		}
		if ent == nil {
			return nack(protocol.ErrBadRequest, "not in archive")
		}
		decl := PerkDecl{Name: ent.Name, Cost: ent.Cost}
		changes := g.rec.acquire(l, decl, nil, nil, nil)
		changes = g.rec.latchUncapped(l, changes)
		l.Recompute(g.tune)
		l.UpdatedAt = now.UTC()
		g.finishMutation(st, 0, changes)
		if l.FindPerk(ent.Name) != nil {
			g.store.RecordAcquisition(l.ThreadID, ent.Name, ent.Cost, l.TurnCount)
		}
		return ok(ent.Name)

	case protocol.OpReset:
		created := l.CreatedAt
		*l = NewLedger(msg.ThreadID, now)
		l.CreatedAt = created
		l.Recompute(g.tune)
		st.lastStatus = nil
		g.finishMutation(st, 0, nil)
		return ok("reset")
	}
	return nack(protocol.ErrBadRequest, "unknown op "+msg.Op)
}
