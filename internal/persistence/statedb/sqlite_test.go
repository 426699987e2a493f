package statedb

import (
	"path/filepath"
	"testing"
	"time"

	"forgeledger.ai/internal/forge"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "forge.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestSQLiteStore_SaveLoadLedger(t *testing.T) {
	s := openTestStore(t)

	l := forge.NewLedger("chat_1", time.Now())
	l.TurnCount = 12
	l.BonusPoints = 40
	l.Perks = []forge.Perk{{Name: "EMBER SIGHT", Cost: 50, Flags: []string{"TOGGLEABLE"}, Active: true}}

	s.SaveLedger(&l, 12)
	waitFor(t, func() bool {
		got, _, err := s.LoadLedger("chat_1")
		return err == nil && got != nil
	})

	got, lastID, err := s.LoadLedger("chat_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if lastID != 12 {
		t.Fatalf("last message id: %d", lastID)
	}
	if got.TurnCount != 12 || got.BonusPoints != 40 || len(got.Perks) != 1 {
		t.Fatalf("loaded: %+v", got.LedgerCore)
	}

	// Second save supersedes the first.
	l.TurnCount = 13
	s.SaveLedger(&l, 13)
	waitFor(t, func() bool {
		got, lastID, err := s.LoadLedger("chat_1")
		return err == nil && got != nil && lastID == 13 && got.TurnCount == 13
	})
}

func TestSQLiteStore_LoadMissingThread(t *testing.T) {
	s := openTestStore(t)
	got, lastID, err := s.LoadLedger("nope")
	if err != nil || got != nil || lastID != 0 {
		t.Fatalf("got %v %d %v", got, lastID, err)
	}
}

func TestSQLiteStore_PerkArchiveCounts(t *testing.T) {
	s := openTestStore(t)

	s.RecordAcquisition("chat_1", "EMBER SIGHT", 50, 3)
	s.RecordAcquisition("chat_1", "EMBER SIGHT", 50, 9)
	s.RecordAcquisition("chat_2", "VOID HAMMER", 150, 1)

	waitFor(t, func() bool {
		rows, err := s.Archive("")
		return err == nil && len(rows) == 2
	})

	rows, err := s.Archive("chat_1")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows: %+v", rows)
	}
	e := rows[0]
	if e.Name != "EMBER SIGHT" || e.TimesAcquired != 2 || e.FirstAcquiredTurn != 3 {
		t.Fatalf("entry: %+v", e)
	}
}

func TestSQLiteStore_SearchArchive(t *testing.T) {
	s := openTestStore(t)

	s.RecordAcquisition("chat_1", "EMBER SIGHT", 50, 3)
	s.RecordAcquisition("chat_2", "EMBER SIGHT", 50, 1)
	s.RecordAcquisition("chat_2", "VOID HAMMER", 150, 5)

	waitFor(t, func() bool {
		rows, err := s.SearchArchive("")
		return err == nil && len(rows) == 3
	})

	// Substring match across threads, case-insensitive.
	rows, err := s.SearchArchive("ember")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: %+v", rows)
	}
	for _, e := range rows {
		if e.Name != "EMBER SIGHT" {
			t.Fatalf("entry: %+v", e)
		}
	}

	rows, err = s.SearchArchive("no such perk")
	if err != nil || len(rows) != 0 {
		t.Fatalf("got %+v %v", rows, err)
	}
}
