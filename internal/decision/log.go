package decision

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Log is an append-only decision record store. Writers only ever
// append; readers reduce the stream into packets.
type Log interface {
	Append(ctx context.Context, rec Record) error
	Records(ctx context.Context) ([]Record, error)
}

// FileLog is the newline-delimited JSON backend. One process appends;
// crash-safety comes from the append-only discipline, not locking.
type FileLog struct {
	mu   sync.Mutex
	path string
}

// NewFileLog creates (if needed) an NDJSON log at dir/decisions.ndjson.
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create decision log dir: %w", err)
	}
	return &FileLog{path: filepath.Join(dir, "decisions.ndjson")}, nil
}

// Append writes one record as a single JSON line.
func (l *FileLog) Append(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append decision record: %w", err)
	}
	return nil
}

// Records reads the whole stream. Malformed lines are skipped
// record-by-record, never aborting the read.
func (l *FileLog) Records(_ context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	var out []Record
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan decision log: %w", err)
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("path", l.path).Msg("malformed decision records skipped")
	}
	return out, nil
}

// Packets reduces the full stream into latest packet state.
func Packets(ctx context.Context, l Log) (map[string]*Packet, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	return Reduce(records), nil
}
