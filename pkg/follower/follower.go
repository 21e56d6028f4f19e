package follower

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/duet/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBackoff      = 500 * time.Millisecond
	DefaultPollInterval = 250 * time.Millisecond
)

// ErrClosed is returned by Next once the follower has stopped
var ErrClosed = errors.New("follower closed")

// Options tunes a Follower
type Options struct {
	// Backoff is the pause before a failed session is reopened
	Backoff time.Duration
	// PollInterval bounds how long a change can go unnoticed when no
	// filesystem notification arrives
	PollInterval time.Duration
	// FromStart replays content already in the file when the first session
	// opens instead of starting at its end
	FromStart bool
	// Logger defaults to the global zerolog logger
	Logger *zerolog.Logger
}

// Follower tails one file
type Follower struct {
	path   string
	opts   Options
	logger zerolog.Logger

	lines chan string
	done  chan struct{}

	startOnce sync.Once
	cancel    context.CancelFunc

	// owned by the run goroutine
	cursor     *cursor
	startAtEnd bool

	// observe is called on session open and session end, set by tests
	observe func(event string, offset int64)
}

// New creates a follower for path. Nothing is read until Start.
func New(path string, opts Options) *Follower {
	observability.EnsureRegistered()

	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	path = filepath.Clean(path)

	return &Follower{
		path:       path,
		opts:       opts,
		logger:     logger.With().Str("component", "follower").Str("path", path).Logger(),
		lines:      make(chan string),
		done:       make(chan struct{}),
		startAtEnd: !opts.FromStart,
	}
}

// Follow creates and starts a follower
func Follow(ctx context.Context, path string, opts Options) *Follower {
	f := New(path, opts)
	f.Start(ctx)
	return f
}

// Start launches the read loop. It runs until ctx is cancelled or Stop is
// called. Calling Start more than once has no effect.
func (f *Follower) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		f.cancel = cancel
		go f.run(ctx)
	})
}

// Stop cancels the read loop and waits for it to exit
func (f *Follower) Stop() {
	f.startOnce.Do(func() {
		close(f.lines)
		close(f.done)
	})
	if f.cancel != nil {
		f.cancel()
	}
	<-f.done
}

// Done is closed when the follower has stopped
func (f *Follower) Done() <-chan struct{} {
	return f.done
}

// Lines returns the line channel. It is closed when the follower stops.
func (f *Follower) Lines() <-chan string {
	return f.lines
}

// Next blocks until the next line arrives. It returns ctx.Err() when ctx is
// cancelled and ErrClosed once the follower has stopped.
func (f *Follower) Next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-f.lines:
		if !ok {
			return "", ErrClosed
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run supervises read sessions: a failed session is logged and reopened
// after the backoff, cancellation exits immediately.
func (f *Follower) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.lines)

	f.logger.Debug().Bool("from_start", f.opts.FromStart).Msg("Follower started")

	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			f.logger.Debug().Msg("Follower stopped")
			return
		}

		reason := reasonOf(err)
		observability.RecordFollowerRestart(reason)
		f.notify(reason, 0)

		event := f.logger.Warn()
		if reason == reasonMissing {
			// expected while the peer has not created its file yet
			event = f.logger.Debug()
		}
		event.Err(err).Str("reason", reason).Dur("backoff", f.opts.Backoff).Msg("Follow session ended, reopening")

		timer := time.NewTimer(f.opts.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.logger.Debug().Msg("Follower stopped")
			return
		case <-timer.C:
		}
	}
}

// session reads from one open file until it fails or ctx is cancelled
func (f *Follower) session(ctx context.Context) error {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// the file appears later, so everything in it is new to us
			f.startAtEnd = false
			return newSessionError(reasonMissing, err)
		}
		return newSessionError(reasonOpen, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return newSessionError(reasonOpen, err)
	}

	cur := f.resume(info)
	if _, err := file.Seek(cur.offset, io.SeekStart); err != nil {
		return newSessionError(reasonOpen, err)
	}
	f.cursor = cur

	f.logger.Debug().Int64("offset", cur.offset).Msg("Follow session opened")
	f.notify("open", cur.offset)

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(f.path)); err != nil {
			f.logger.Debug().Err(err).Msg("Watch failed, polling only")
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	} else {
		f.logger.Debug().Err(err).Msg("Watcher unavailable, polling only")
	}

	poll := time.NewTicker(f.opts.PollInterval)
	defer poll.Stop()

	reader := bufio.NewReader(file)
	var partial []byte
	gone := false

	for {
		if err := f.drain(ctx, reader, &partial); err != nil {
			return err
		}
		if gone {
			f.cursor = nil
			return newSessionError(reasonRemoved, fmt.Errorf("%s was removed or renamed", f.path))
		}
		if err := f.check(len(partial)); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == f.path && ev.Has(fsnotify.Remove|fsnotify.Rename) {
				// read what was written before the unlink, then reopen
				gone = true
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			return newSessionError(reasonWatch, err)
		case <-poll.C:
		}
	}
}

// drain delivers every complete line currently readable and keeps the
// trailing fragment in partial
func (f *Follower) drain(ctx context.Context, reader *bufio.Reader, partial *[]byte) error {
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			*partial = append(*partial, chunk...)
		}
		if n := len(*partial); n > 0 && (*partial)[n-1] == '\n' {
			raw := *partial
			*partial = nil
			if err := f.deliver(ctx, trimLine(raw)); err != nil {
				return err
			}
			f.cursor.offset += int64(len(raw))
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return newSessionError(reasonRead, err)
		}
	}
}

func (f *Follower) deliver(ctx context.Context, line string) error {
	select {
	case f.lines <- line:
		observability.RecordFollowerLine(filepath.Base(f.path))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// check compares the path on disk with the open file
func (f *Follower) check(pending int) error {
	st, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.cursor = nil
			return newSessionError(reasonRemoved, err)
		}
		return newSessionError(reasonRead, err)
	}
	if !os.SameFile(st, f.cursor.info) {
		f.cursor = nil
		return newSessionError(reasonReplaced, fmt.Errorf("%s now refers to a different file", f.path))
	}
	if st.Size() < f.cursor.offset+int64(pending) {
		f.cursor = nil
		return newSessionError(reasonTruncated, fmt.Errorf("%s shrank to %d bytes", f.path, st.Size()))
	}
	if f.cursor.observe(st) {
		// truncated and refilled to the same length between two looks
		f.cursor = nil
		return newSessionError(reasonTruncated, fmt.Errorf("%s was rewritten in place", f.path))
	}
	return nil
}

func (f *Follower) notify(event string, offset int64) {
	if f.observe != nil {
		f.observe(event, offset)
	}
}

func trimLine(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	return string(raw)
}
