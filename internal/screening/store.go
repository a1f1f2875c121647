package screening

import "context"

// SessionStore keeps screening sessions keyed by session id.
//
// Get returns an empty session for an unknown id; it is only persisted by the
// first write, so a read never allocates storage. AppendEntry is append-only,
// counts one processed answer per entry and fails with ErrInvalidSessionState
// once the session is terminated. MarkTerminated fails with
// ErrAlreadyTerminated when called twice.
//
// Lock acquires the exclusive per-session lock that serializes turns. The
// returned unlock func must be called exactly once.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	AppendEntry(ctx context.Context, sessionID string, entry TranscriptEntry) error
	RecordFollowup(ctx context.Context, sessionID string, followup string) error
	MarkTerminated(ctx context.Context, sessionID string) error
	Lock(ctx context.Context, sessionID string) (func(), error)
}
