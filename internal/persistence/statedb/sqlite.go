package statedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"forgeledger.ai/internal/forge"
	"forgeledger.ai/internal/protocol"
)

// SQLiteStore persists thread ledgers and the perk archive. Reads happen on
// the caller's goroutine; writes go through a single writer goroutine so
// the registry loop never blocks on disk.
type SQLiteStore struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqAcquisition
)

type req struct {
	kind reqKind

	save        saveRow
	acquisition acquisitionRow
}

type saveRow struct {
	ThreadID      string
	LedgerJSON    []byte
	LastMessageID uint64
	UpdatedAt     string
}

type acquisitionRow struct {
	ThreadID string
	Name     string
	Cost     int
	Turn     int
	At       string
}

func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			ledger_json TEXT NOT NULL,
			last_message_id INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS perk_archive (
			thread_id TEXT NOT NULL,
			name TEXT NOT NULL,
			cost INTEGER NOT NULL,
			times_acquired INTEGER NOT NULL,
			first_acquired_turn INTEGER NOT NULL,
			last_acquired_at TEXT NOT NULL,
			PRIMARY KEY (thread_id, name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_perk_archive_name ON perk_archive(name);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqSave:
			_, _ = s.db.Exec(
				`INSERT INTO threads (thread_id, ledger_json, last_message_id, updated_at)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT(thread_id) DO UPDATE SET
				   ledger_json = excluded.ledger_json,
				   last_message_id = excluded.last_message_id,
				   updated_at = excluded.updated_at;`,
				r.save.ThreadID, string(r.save.LedgerJSON), int64(r.save.LastMessageID), r.save.UpdatedAt,
			)
		case reqAcquisition:
			_, _ = s.db.Exec(
				`INSERT INTO perk_archive (thread_id, name, cost, times_acquired, first_acquired_turn, last_acquired_at)
				 VALUES (?, ?, ?, 1, ?, ?)
				 ON CONFLICT(thread_id, name) DO UPDATE SET
				   cost = excluded.cost,
				   times_acquired = perk_archive.times_acquired + 1,
				   last_acquired_at = excluded.last_acquired_at;`,
				r.acquisition.ThreadID, r.acquisition.Name, r.acquisition.Cost, r.acquisition.Turn, r.acquisition.At,
			)
		}
	}
}

// LoadLedger returns (nil, 0, nil) when the thread has no saved state.
// Callers recompute derived fields; stored derived values are never trusted.
func (s *SQLiteStore) LoadLedger(threadID string) (*forge.Ledger, uint64, error) {
	var raw string
	var lastID int64
	err := s.db.QueryRow(
		`SELECT ledger_json, last_message_id FROM threads WHERE thread_id = ?;`, threadID,
	).Scan(&raw, &lastID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var l forge.Ledger
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return nil, 0, fmt.Errorf("thread %s: %w", threadID, err)
	}
	return &l, uint64(lastID), nil
}

func (s *SQLiteStore) SaveLedger(l *forge.Ledger, lastMessageID uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	b, err := json.Marshal(l)
	if err != nil {
		return
	}
	r := saveRow{
		ThreadID:      l.ThreadID,
		LedgerJSON:    b,
		LastMessageID: lastMessageID,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSave, save: r}:
	default:
		// Drop if the writer falls behind; the next save supersedes this one.
	}
}

func (s *SQLiteStore) RecordAcquisition(threadID, name string, cost, turn int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := acquisitionRow{
		ThreadID: threadID,
		Name:     name,
		Cost:     cost,
		Turn:     turn,
		At:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqAcquisition, acquisition: r}:
	default:
	}
}

// Archive lists perk-archive rows, optionally filtered to one thread.
func (s *SQLiteStore) Archive(threadID string) ([]protocol.ArchiveEntry, error) {
	q := `SELECT thread_id, name, cost, times_acquired, first_acquired_turn, last_acquired_at
	      FROM perk_archive`
	var args []any
	if threadID != "" {
		q += ` WHERE thread_id = ?`
		args = append(args, threadID)
	}
	q += ` ORDER BY thread_id, name;`
	return s.queryArchive(q, args...)
}

// SearchArchive matches perk names across every thread, case-insensitively.
// An empty query returns the whole archive.
func (s *SQLiteStore) SearchArchive(query string) ([]protocol.ArchiveEntry, error) {
	q := `SELECT thread_id, name, cost, times_acquired, first_acquired_turn, last_acquired_at
	      FROM perk_archive`
	var args []any
	if query != "" {
		q += ` WHERE name LIKE ?`
		args = append(args, "%"+query+"%")
	}
	q += ` ORDER BY name, thread_id;`
	return s.queryArchive(q, args...)
}

func (s *SQLiteStore) queryArchive(q string, args ...any) ([]protocol.ArchiveEntry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.ArchiveEntry
	for rows.Next() {
		var e protocol.ArchiveEntry
		if err := rows.Scan(&e.ThreadID, &e.Name, &e.Cost, &e.TimesAcquired, &e.FirstAcquiredTurn, &e.LastAcquiredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Flush drains pending writes. Test helper; production code relies on Close.
func (s *SQLiteStore) Flush() {
	for len(s.ch) > 0 {
		time.Sleep(time.Millisecond)
	}
}
