package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"forgeledger.ai/internal/forge"
	"forgeledger.ai/internal/persistence/export"
	"forgeledger.ai/internal/protocol"
	"forgeledger.ai/internal/tuning"
)

// Replays a transcript of TURN messages (JSONL, optionally .zst) through a
// fresh ledger and prints the final status block. Useful for debugging a
// thread offline from the server's turn logs.
func main() {
	var (
		inPath     = flag.String("in", "", "transcript path (.jsonl or .jsonl.zst)")
		threadID   = flag.String("thread", "", "only replay turns for this thread (default: first seen)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		exportPath = flag.String("export", "", "write final ledger as a .forge.zst export (optional)")
		verbose    = flag.Bool("v", false, "print per-turn changes")
	)
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}

	tune := tuning.Defaults()
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = t
	}

	r, closeFn, err := openTranscript(*inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open transcript:", err)
		os.Exit(1)
	}
	defer closeFn()

	ext := forge.Extractor{Tune: tune}
	rec := forge.Reconciler{Tune: tune}

	var ledger forge.Ledger
	var lastID uint64
	turns := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var turn protocol.TurnMsg
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			fmt.Fprintln(os.Stderr, "skip bad line:", err)
			continue
		}
		if *threadID == "" {
			*threadID = turn.ThreadID
		}
		if turn.ThreadID != *threadID {
			continue
		}
		if ledger.ThreadID == "" {
			ledger = forge.NewLedger(turn.ThreadID, time.Now())
		}
		if turn.MessageID != 0 && turn.MessageID <= lastID {
			continue
		}
		if turn.MessageID != 0 {
			lastID = turn.MessageID
		}

		cand := ext.Extract(turn.Text)
		changes := rec.Apply(&ledger, cand, time.Now())
		turns++
		if *verbose {
			for _, ch := range changes {
				fmt.Printf("turn %d: %s %s %d %s\n", ledger.TurnCount, ch.Kind, ch.Name, ch.Value, ch.Detail)
			}
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "read transcript:", err)
		os.Exit(1)
	}
	if ledger.ThreadID == "" {
		fmt.Fprintln(os.Stderr, "no turns found")
		os.Exit(1)
	}

	fmt.Printf("replayed %d turns for thread %s\n\n", turns, ledger.ThreadID)
	fmt.Println(forge.RenderStatus(&ledger, tune))

	if *exportPath != "" {
		exp := export.ExportV1{
			Header: export.Header{Version: 1, ThreadID: ledger.ThreadID, Turn: ledger.TurnCount},
			Ledger: ledger,
		}
		if err := export.Write(*exportPath, exp); err != nil {
			fmt.Fprintln(os.Stderr, "write export:", err)
			os.Exit(1)
		}
		fmt.Printf("\nexport written to %s\n", *exportPath)
	}
}

func openTranscript(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		return dec, func() { dec.Close(); _ = f.Close() }, nil
	}
	return f, func() { _ = f.Close() }, nil
}
