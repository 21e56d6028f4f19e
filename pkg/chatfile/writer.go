// Package chatfile owns the local chat file: one utterance per line,
// created fresh when the process starts and append-only afterwards.
package chatfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/duet/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCommit wraps every failure to open, write or sync the chat file
	ErrCommit = errors.New("chat file commit failed")

	// ErrNotSingleLine is returned when a commit is not exactly one
	// newline-terminated line
	ErrNotSingleLine = errors.New("text must be a single newline-terminated line")
)

// Path returns {dir}/{name}.txt
func Path(dir, name string) string {
	return filepath.Join(dir, name+".txt")
}

// Normalize collapses text to a single line: every CR and LF is removed and
// exactly one LF is appended.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", "")
	return text + "\n"
}

// Writer is the durable writer for one chat file
type Writer struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	offset int64
}

// Create starts a fresh chat file at path, replacing anything left over
// from a previous run. The old file is unlinked rather than truncated so a
// reader still holding it sees a different file. The directory is created
// if needed.
func Create(path string) (*Writer, error) {
	observability.EnsureRegistered()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrCommit, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: remove stale %s: %v", ErrCommit, path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCommit, path, err)
	}

	log.Debug().Str("path", path).Msg("Chat file created")

	return &Writer{path: path, file: file}, nil
}

// Path returns the chat file path
func (w *Writer) Path() string {
	return w.path
}

// Offset returns the number of bytes committed so far
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Commit appends line and fsyncs it before returning. When Commit returns
// nil the bytes are visible to any reader of the file.
func (w *Writer) Commit(ctx context.Context, line string) error {
	if !strings.HasSuffix(line, "\n") || strings.ContainsAny(line[:len(line)-1], "\r\n") {
		return ErrNotSingleLine
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("%w: %v", ErrCommit, os.ErrClosed)
	}

	start := time.Now()
	err := w.write([]byte(line))
	observability.RecordCommit(time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}

	return nil
}

func (w *Writer) write(data []byte) error {
	n, err := w.file.Write(data)
	w.offset += int64(n)
	if err != nil {
		return err
	}
	return w.file.Sync()
}

// Close closes the chat file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
