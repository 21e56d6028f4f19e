// Package transcript holds the role-tagged conversation of one agent process.
//
// Invariants:
// - Entries alternate strictly between self and peer.
// - A bounded conversation drops from the front only, so the retained
//   entries stay a contiguous, alternating suffix.
// - The journal is append-only and fsynced per entry.
//
// Usage:
//
//	conv := transcript.New(0)
//	_ = conv.Append(transcript.Utterance{Speaker: "alice", Role: transcript.RoleSelf, Text: "Hi"})
//	history := conv.Snapshot()
//	_ = history
package transcript
