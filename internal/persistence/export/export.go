package export

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"forgeledger.ai/internal/forge"
	"forgeledger.ai/internal/protocol"
)

// Export files are zstd streams with a one-line JSON header followed by a
// gob body, so a human can identify a file with zstdcat | head -1 without
// decoding the body.
type Header struct {
	Version  int    `json:"version"`
	ThreadID string `json:"thread_id"`
	Turn     int    `json:"turn"`
}

type ExportV1 struct {
	Header Header `json:"header"`

	Ledger  forge.Ledger            `json:"ledger"`
	Archive []protocol.ArchiveEntry `json:"archive,omitempty"`
}

func Write(path string, exp ExportV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteTo(f, exp)
}

// WriteTo streams an export; used both for files and for the server's
// export endpoint.
func WriteTo(w io.Writer, exp ExportV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 128*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(exp.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&exp); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func Read(path string) (ExportV1, error) {
	var exp ExportV1
	f, err := os.Open(path)
	if err != nil {
		return exp, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return exp, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)

	// Header line is advisory; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&exp); err != nil {
		return exp, fmt.Errorf("gob decode: %w", err)
	}
	return exp, nil
}
