package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"forgeledger.ai/internal/forge"
	"forgeledger.ai/internal/persistence/export"
	persistlog "forgeledger.ai/internal/persistence/log"
	"forgeledger.ai/internal/persistence/statedb"
	"forgeledger.ai/internal/transport/ws"
	"forgeledger.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable sqlite persistence (in-memory ledgers only)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	var db *statedb.SQLiteStore
	var store forge.Store
	if !*disableDB {
		db, err = statedb.Open(filepath.Join(*dataDir, "forge.db"))
		if err != nil {
			logger.Fatalf("open statedb: %v", err)
		}
		defer db.Close()
		store = db
	}

	turnLog := persistlog.NewTurnLogger(*dataDir)
	defer turnLog.Close()
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()

	registry := forge.NewRegistry(tune, store, turnLog, auditLog, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := registry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("registry: %v", err)
		}
	}()

	wsServer := ws.NewServer(registry, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsServer.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if db != nil {
		mux.HandleFunc("/v1/export", exportHandler(db, logger))
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	registry.Stop()
}

// exportHandler streams a thread's last persisted ledger plus its perk
// archive rows. Saves are fire-and-forget, so the DB copy may trail the
// in-memory ledger by a write.
func exportHandler(db *statedb.SQLiteStore, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := strings.TrimSpace(r.URL.Query().Get("thread_id"))
		if threadID == "" {
			http.Error(w, "missing thread_id", http.StatusBadRequest)
			return
		}
		l, _, err := db.LoadLedger(threadID)
		if err != nil {
			logger.Printf("export %s: %v", threadID, err)
			http.Error(w, "load failed", http.StatusInternalServerError)
			return
		}
		if l == nil {
			http.Error(w, "unknown thread", http.StatusNotFound)
			return
		}
		arch, err := db.Archive(threadID)
		if err != nil {
			logger.Printf("export %s: archive: %v", threadID, err)
			http.Error(w, "archive failed", http.StatusInternalServerError)
			return
		}
		exp := export.ExportV1{
			Header:  export.Header{Version: 1, ThreadID: threadID, Turn: l.TurnCount},
			Ledger:  *l,
			Archive: arch,
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.forge.zst", threadID))
		if err := export.WriteTo(w, exp); err != nil {
			logger.Printf("export %s: write: %v", threadID, err)
		}
	}
}
