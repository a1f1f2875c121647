package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSessionTTL    = 24 * time.Hour
	defaultTerminatedTTL = 30 * 24 * time.Hour
	defaultLockTTL       = 2 * time.Minute

	lockRetryMin = 10 * time.Millisecond
	lockRetryMax = 250 * time.Millisecond
)

// KEYS: meta, transcript. ARGV: entry, ttl ms, now.
var appendEntryScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'terminated') == '1' then
  return -1
end
redis.call('RPUSH', KEYS[2], ARGV[1])
local n = redis.call('HINCRBY', KEYS[1], 'turn_count', 1)
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[3])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return n
`)

// KEYS: meta, transcript. ARGV: followup, ttl ms, now.
var recordFollowupScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'terminated') == '1' then
  return -1
end
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[3])
redis.call('HSET', KEYS[1], 'last_followup', ARGV[1], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

// KEYS: meta, transcript. ARGV: ttl ms, now.
var terminateScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'terminated') == '1' then
  return 0
end
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[2])
redis.call('HSET', KEYS[1], 'terminated', '1', 'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

// KEYS: lock. ARGV: token.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisSessionStore keeps sessions in Redis so several API replicas can
// share them. Each session is a meta hash plus a transcript list; every
// write refreshes the TTL of both. Termination switches both keys to the
// terminated TTL.
type RedisSessionStore struct {
	redis         *redis.Client
	tracer        trace.Tracer
	ttl           time.Duration
	terminatedTTL time.Duration
	lockTTL       time.Duration
	now           func() time.Time
}

// RedisStoreOption customizes a RedisSessionStore.
type RedisStoreOption func(*RedisSessionStore)

// WithSessionTTL overrides how long idle sessions are kept.
func WithSessionTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisSessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTerminatedTTL overrides how long terminated sessions are kept.
func WithTerminatedTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisSessionStore) {
		if ttl > 0 {
			s.terminatedTTL = ttl
		}
	}
}

// WithLockTTL bounds how long a crashed holder can block a session.
func WithLockTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisSessionStore) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func NewRedisSessionStore(client *redis.Client, opts ...RedisStoreOption) *RedisSessionStore {
	if client == nil {
		panic("screening: redis client cannot be nil")
	}
	s := &RedisSessionStore{
		redis:         client,
		tracer:        otel.Tracer("psychiatrai.internal.screening.session_store"),
		ttl:           defaultSessionTTL,
		terminatedTTL: defaultTerminatedTTL,
		lockTTL:       defaultLockTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionMetaKey(id string) string {
	return fmt.Sprintf("screening:session:{%s}:meta", id)
}

func sessionTranscriptKey(id string) string {
	return fmt.Sprintf("screening:session:{%s}:transcript", id)
}

func sessionLockKey(id string) string {
	return fmt.Sprintf("screening:session:{%s}:lock", id)
}

func (s *RedisSessionStore) startSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("screening.session_id", sessionID)))
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id required", ErrValidation)
	}
	ctx, span := s.startSpan(ctx, "screening.session.get", sessionID)
	defer span.End()

	pipe := s.redis.Pipeline()
	metaCmd := pipe.HGetAll(ctx, sessionMetaKey(sessionID))
	listCmd := pipe.LRange(ctx, sessionTranscriptKey(sessionID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return nil, fmt.Errorf("screening: failed to load session: %w", err)
	}

	meta := metaCmd.Val()
	now := s.now()
	sess := &Session{
		ID:           sessionID,
		Terminated:   meta["terminated"] == "1",
		LastFollowup: meta["last_followup"],
		CreatedAt:    parseStoredTime(meta["created_at"], now),
		UpdatedAt:    parseStoredTime(meta["updated_at"], now),
	}
	if raw := meta["turn_count"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("screening: corrupt turn count %q: %w", raw, err)
		}
		sess.TurnCount = n
	}

	items := listCmd.Val()
	sess.Transcript = make([]TranscriptEntry, 0, len(items))
	for _, item := range items {
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("screening: failed to decode transcript entry: %w", err)
		}
		sess.Transcript = append(sess.Transcript, entry)
	}
	return sess, nil
}

func (s *RedisSessionStore) AppendEntry(ctx context.Context, sessionID string, entry TranscriptEntry) error {
	ctx, span := s.startSpan(ctx, "screening.session.append", sessionID)
	defer span.End()

	now := s.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("screening: marshal transcript entry: %w", err)
	}

	keys := []string{sessionMetaKey(sessionID), sessionTranscriptKey(sessionID)}
	n, err := appendEntryScript.Run(ctx, s.redis, keys, data, s.ttl.Milliseconds(), formatStoredTime(now)).Int64()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("screening: append transcript entry: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("%w: session %s is terminated", ErrInvalidSessionState, sessionID)
	}
	return nil
}

func (s *RedisSessionStore) RecordFollowup(ctx context.Context, sessionID string, followup string) error {
	ctx, span := s.startSpan(ctx, "screening.session.record_followup", sessionID)
	defer span.End()

	keys := []string{sessionMetaKey(sessionID), sessionTranscriptKey(sessionID)}
	n, err := recordFollowupScript.Run(ctx, s.redis, keys, followup, s.ttl.Milliseconds(), formatStoredTime(s.now())).Int64()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("screening: record followup: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("%w: session %s is terminated", ErrInvalidSessionState, sessionID)
	}
	return nil
}

func (s *RedisSessionStore) MarkTerminated(ctx context.Context, sessionID string) error {
	ctx, span := s.startSpan(ctx, "screening.session.terminate", sessionID)
	defer span.End()

	keys := []string{sessionMetaKey(sessionID), sessionTranscriptKey(sessionID)}
	n, err := terminateScript.Run(ctx, s.redis, keys, s.terminatedTTL.Milliseconds(), formatStoredTime(s.now())).Int64()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("screening: terminate session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminated, sessionID)
	}
	return nil
}

// Lock takes a token-guarded lock key, polling with backoff until it is
// free or ctx is done. The key expires after the lock TTL so a crashed
// holder cannot block the session forever.
func (s *RedisSessionStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	ctx, span := s.startSpan(ctx, "screening.session.lock", sessionID)
	defer span.End()

	key := sessionLockKey(sessionID)
	token := uuid.NewString()
	wait := lockRetryMin
	for {
		ok, err := s.redis.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			span.RecordError(err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("screening: waiting for session %s lock: %w", sessionID, ctxErr)
			}
			return nil, fmt.Errorf("screening: acquire session lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("screening: waiting for session %s lock: %w", sessionID, ctx.Err())
		case <-timer.C:
		}
		wait *= 2
		if wait > lockRetryMax {
			wait = lockRetryMax
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled by the time it unlocks.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			// On failure the key still expires after lockTTL.
			_ = releaseLockScript.Run(releaseCtx, s.redis, []string{key}, token).Err()
		})
	}, nil
}

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fallback
	}
	return t
}
