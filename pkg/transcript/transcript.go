package transcript

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Role tags who produced an utterance
type Role string

const (
	RoleSystem Role = "system"
	RolePeer   Role = "peer"
	RoleSelf   Role = "self"
)

var (
	// ErrRoleRepeated is returned when an append would put two entries of
	// the same role next to each other
	ErrRoleRepeated = errors.New("role repeated")

	// ErrInvalidRole is returned for roles that cannot enter a conversation
	ErrInvalidRole = errors.New("invalid conversation role")
)

// Utterance is one line of the conversation
type Utterance struct {
	Speaker string    `json:"speaker"`
	Role    Role      `json:"role"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Conversation is an append-only, alternating sequence of utterances
type Conversation struct {
	mu      sync.RWMutex
	entries []Utterance
	limit   int
	last    Role
}

// New creates a conversation. limit > 0 retains only the newest limit entries.
func New(limit int) *Conversation {
	if limit < 0 {
		limit = 0
	}
	return &Conversation{limit: limit}
}

// Append adds u to the end of the conversation
func (c *Conversation) Append(u Utterance) error {
	if u.Role != RoleSelf && u.Role != RolePeer {
		return fmt.Errorf("%w: %q", ErrInvalidRole, u.Role)
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == u.Role {
		return fmt.Errorf("%w: two consecutive %s entries", ErrRoleRepeated, u.Role)
	}

	c.entries = append(c.entries, u)
	c.last = u.Role

	// compact once the dropped prefix reaches limit entries so each append
	// copies limit entries at most once per limit appends
	if c.limit > 0 && len(c.entries) >= 2*c.limit {
		kept := make([]Utterance, c.limit, 2*c.limit)
		copy(kept, c.entries[len(c.entries)-c.limit:])
		c.entries = kept
	}

	return nil
}

// retained is the newest limit entries. Callers hold c.mu.
func (c *Conversation) retained() []Utterance {
	if c.limit > 0 && len(c.entries) > c.limit {
		return c.entries[len(c.entries)-c.limit:]
	}
	return c.entries
}

// Snapshot returns a copy of the retained entries in order
func (c *Conversation) Snapshot() []Utterance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kept := c.retained()
	out := make([]Utterance, len(kept))
	copy(out, kept)
	return out
}

// Len returns the number of retained entries
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.retained())
}

// Last returns the newest entry, if any
func (c *Conversation) Last() (Utterance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return Utterance{}, false
	}
	return c.entries[len(c.entries)-1], true
}
