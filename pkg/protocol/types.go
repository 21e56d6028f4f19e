package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/duet/pkg/transcript"
)

// Bootstrap is the starter's first utterance
const Bootstrap = "Hi"

// ErrEmptyUtterance is returned when the generator produces no text
var ErrEmptyUtterance = errors.New("generator returned an empty utterance")

// Generator produces the next local utterance
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []transcript.Utterance) (string, error)
}

// Committer durably appends one newline-terminated line to the local chat file
type Committer interface {
	Commit(ctx context.Context, line string) error
}

// LineSource yields the peer's lines in order
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// Speaker voices a committed utterance. It must not block the turn.
type Speaker interface {
	Speak(ctx context.Context, text, voice string)
}

// Recorder keeps a durable, role-tagged copy of the conversation
type Recorder interface {
	Record(ctx context.Context, u transcript.Utterance) error
}

// State is the protocol's position in the turn cycle
type State int32

const (
	StateAwaitingFirstMove State = iota
	StateSpeaking
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstMove:
		return "awaiting_first_move"
	case StateSpeaking:
		return "speaking"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Component names used in ComponentError
const (
	ComponentCompletion = "completion"
	ComponentChatfile   = "chatfile"
	ComponentFollower   = "follower"
	ComponentTranscript = "transcript"
	ComponentJournal    = "journal"
)

// ComponentError is a fatal error attributed to one collaborator
type ComponentError struct {
	Component string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

func fail(component string, err error) error {
	return &ComponentError{Component: component, Err: err}
}
