// Package follower tails a file that another process appends to.
//
// A Follower delivers every newline-terminated line appended after it
// started, in file order, exactly once. Read sessions that fail (file
// missing, removed, replaced, truncated or unreadable) are torn down and
// reopened after a fixed backoff; callers never see those errors. Only
// cancellation ends the line sequence.
//
// Invariants:
// - The cursor only advances past complete lines.
// - A reopened session resumes at the cursor when it is the same file and
//   starts at offset 0 when the file was replaced or truncated.
//
// Usage:
//
//	f := follower.Follow(ctx, "/tmp/chat/bob.txt", follower.Options{})
//	line, err := f.Next(ctx)
package follower
