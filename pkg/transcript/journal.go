package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/harun/duet/internal/observability"
	"github.com/harun/duet/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Entry is one journal line
type Entry struct {
	ID string `json:"id"`
	Utterance
}

// Journal records the conversation as JSONL next to the chat files
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// JournalPath returns {dir}/{name}.transcript.jsonl
func JournalPath(dir, name string) string {
	return filepath.Join(dir, name+".transcript.jsonl")
}

// OpenJournal creates (truncating) the journal at path
func OpenJournal(path string) (*Journal, error) {
	observability.EnsureRegistered()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	log.Debug().Str("path", path).Msg("Transcript journal opened")

	return &Journal{path: path, file: file}, nil
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

// Record appends u to the journal and syncs it to disk
func (j *Journal) Record(ctx context.Context, u Utterance) error {
	_, span := tracing.StartSpan(
		ctx,
		"duet.transcript",
		"journal.record",
		attribute.String("role", string(u.Role)),
	)
	defer span.End()

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate entry id: %w", err)
	}

	data, err := json.Marshal(Entry{ID: id, Utterance: u})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return os.ErrClosed
	}

	err = writeAndSync(j.file, append(data, '\n'))
	observability.RecordJournalWrite(err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// Close closes the journal file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// LoadJournal reads every valid entry of a journal file. Unparseable lines
// are skipped with a warning.
func LoadJournal(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Warn().Str("path", path).Int("line", lineNum).Err(err).Msg("Failed to parse journal line, skipping")
			continue
		}
		if entry.Role == "" || entry.Text == "" {
			log.Warn().Str("path", path).Int("line", lineNum).Msg("Invalid journal entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	return entries, nil
}

// Merge orders the entries of several journals by timestamp
func Merge(journals ...[]Entry) []Entry {
	var all []Entry
	for _, j := range journals {
		all = append(all, j...)
	}
	sort.SliceStable(all, func(i, k int) bool {
		return all[i].At.Before(all[k].At)
	})
	return all
}
