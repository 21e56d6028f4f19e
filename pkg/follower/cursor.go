package follower

import (
	"errors"
	"os"
	"time"
)

// cursor is the committed read position in one file. offset always sits on
// a line boundary. size and modTime are from the last stat of the path and
// catch a rewrite that leaves the length unchanged.
type cursor struct {
	info    os.FileInfo
	offset  int64
	size    int64
	modTime time.Time
}

func newCursor(info os.FileInfo, offset int64) *cursor {
	return &cursor{info: info, offset: offset, size: info.Size(), modTime: info.ModTime()}
}

// observe records st and reports whether the file changed without changing
// length since the previous observation.
func (c *cursor) observe(st os.FileInfo) (rewritten bool) {
	rewritten = st.Size() == c.size && !st.ModTime().Equal(c.modTime)
	c.size, c.modTime = st.Size(), st.ModTime()
	return rewritten
}

// resume picks the start offset for a new session on the file described by
// info. The previous cursor is reused only for the same, unshrunk file.
func (f *Follower) resume(info os.FileInfo) *cursor {
	defer func() { f.startAtEnd = false }()

	if prev := f.cursor; prev != nil && os.SameFile(prev.info, info) && info.Size() >= prev.offset {
		return newCursor(info, prev.offset)
	}
	if f.cursor == nil && f.startAtEnd {
		return newCursor(info, info.Size())
	}
	return newCursor(info, 0)
}

const (
	reasonMissing   = "missing"
	reasonOpen      = "open"
	reasonRead      = "read"
	reasonRemoved   = "removed"
	reasonReplaced  = "replaced"
	reasonTruncated = "truncated"
	reasonWatch     = "watch"
	reasonUnknown   = "unknown"
)

// sessionError ends one read session; the follower reopens after it
type sessionError struct {
	reason string
	err    error
}

func newSessionError(reason string, err error) *sessionError {
	return &sessionError{reason: reason, err: err}
}

func (e *sessionError) Error() string {
	return e.reason + ": " + e.err.Error()
}

func (e *sessionError) Unwrap() error {
	return e.err
}

func reasonOf(err error) string {
	var se *sessionError
	if errors.As(err, &se) {
		return se.reason
	}
	return reasonUnknown
}
