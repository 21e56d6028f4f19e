// Package protocol runs one side of a two-party, turn-alternating
// conversation.
//
// The local agent commits its utterances to its own chat file and reads the
// peer's utterances from the peer's chat file. Exactly one side is the
// starter: it opens with a fixed greeting without consulting the generator.
// After that each side strictly alternates between listening (waiting for one
// peer line) and speaking (generating, committing and voicing one line).
//
// Cancelling the context passed to Run is a clean shutdown. Any other error
// ending Run is fatal and is reported as a *ComponentError naming the
// collaborator that failed.
package protocol
