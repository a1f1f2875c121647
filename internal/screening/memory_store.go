package screening

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemorySessionStore is a SessionStore backed by process memory. Sessions
// idle for longer than the TTL are evicted by a background janitor.
// Terminated sessions are kept for the terminated TTL instead so a finished
// screening cannot be reopened under the same id.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*sessionLock

	ttl           time.Duration
	terminatedTTL time.Duration
	now           func() time.Time
	stop          chan struct{}
	stopOnce      sync.Once
}

// MemoryStoreOption customizes a MemorySessionStore.
type MemoryStoreOption func(*MemorySessionStore)

// WithMemoryTerminatedTTL overrides how long terminated sessions are kept.
// A ttl <= 0 keeps them for the life of the process.
func WithMemoryTerminatedTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemorySessionStore) {
		s.terminatedTTL = ttl
	}
}

// NewMemorySessionStore creates an in-memory store. A ttl <= 0 disables eviction.
func NewMemorySessionStore(ttl time.Duration, opts ...MemoryStoreOption) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions:      make(map[string]*Session),
		locks:         make(map[string]*sessionLock),
		ttl:           ttl,
		terminatedTTL: defaultTerminatedTTL,
		now:           func() time.Time { return time.Now().UTC() },
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if ttl > 0 {
		go s.janitor(evictionInterval(ttl))
	}
	return s
}

func evictionInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Close stops the eviction janitor.
func (s *MemorySessionStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id required", ErrValidation)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}
	now := s.now()
	return &Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *MemorySessionStore) getLocked(sessionID string) *Session {
	sess, ok := s.sessions[sessionID]
	if !ok {
		now := s.now()
		sess = &Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
		s.sessions[sessionID] = sess
	}
	return sess
}

func (s *MemorySessionStore) AppendEntry(ctx context.Context, sessionID string, entry TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getLocked(sessionID)
	if sess.Terminated {
		return fmt.Errorf("%w: session %s is terminated", ErrInvalidSessionState, sessionID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	sess.Transcript = append(sess.Transcript, entry)
	sess.TurnCount++
	sess.UpdatedAt = s.now()
	return nil
}

func (s *MemorySessionStore) RecordFollowup(ctx context.Context, sessionID string, followup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getLocked(sessionID)
	if sess.Terminated {
		return fmt.Errorf("%w: session %s is terminated", ErrInvalidSessionState, sessionID)
	}
	sess.LastFollowup = followup
	sess.UpdatedAt = s.now()
	return nil
}

func (s *MemorySessionStore) MarkTerminated(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getLocked(sessionID)
	if sess.Terminated {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminated, sessionID)
	}
	sess.Terminated = true
	sess.UpdatedAt = s.now()
	return nil
}

// sessionLock is a one-slot semaphore shared by every caller waiting on the
// same session. It is dropped once nobody holds or waits for it.
type sessionLock struct {
	sem  chan struct{}
	refs int
}

// Lock blocks until the session lock is free or ctx is done.
func (s *MemorySessionStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	l := s.acquireRef(sessionID)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.releaseRef(sessionID, l)
		return nil, fmt.Errorf("screening: waiting for session %s lock: %w", sessionID, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.releaseRef(sessionID, l)
		})
	}, nil
}

func (s *MemorySessionStore) acquireRef(sessionID string) *sessionLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		s.locks[sessionID] = l
	}
	l.refs++
	return l
}

func (s *MemorySessionStore) releaseRef(sessionID string, l *sessionLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, sessionID)
	}
}

func (s *MemorySessionStore) busy(sessionID string) bool {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	_, ok := s.locks[sessionID]
	return ok
}

// Len returns the number of sessions currently held.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemorySessionStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stop:
			return
		}
	}
}

// evictIdle drops sessions not updated within the TTL that have no turn in
// flight. Terminated sessions use the terminated TTL.
func (s *MemorySessionStore) evictIdle() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	cutoff := now.Add(-s.ttl)
	terminatedCutoff := now.Add(-s.terminatedTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.Terminated {
			if s.terminatedTTL <= 0 || !sess.UpdatedAt.Before(terminatedCutoff) {
				continue
			}
		} else if !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		if s.busy(id) {
			continue
		}
		delete(s.sessions, id)
		evicted++
	}
	return evicted
}
