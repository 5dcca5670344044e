package chat

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

const (
	// DefaultCleanupInterval is how often the janitor sweeps idle sessions.
	DefaultCleanupInterval = time.Minute
	defaultHistoryCapacity = 16
)

type session struct {
	mu       sync.Mutex
	id       string
	messages []chat.Message
	touched  time.Time
	// refs counts in-flight operations; eviction skips referenced sessions.
	refs int
	elem *list.Element
}

// MemoryStore keeps histories in process memory. Sessions idle for longer
// than the TTL are dropped, and once MaxSessions is reached the least
// recently used session makes room for a new one.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*session
	lru         *list.List
	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	janitorMu     sync.Mutex
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL sets the idle timeout. Zero disables expiry.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithMaxSessions caps the number of live sessions. Zero means unlimited.
func WithMaxSessions(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxSessions = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore bootstraps the in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*session),
		lru:      list.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// acquire returns the live session for id, creating it when create is set.
// The caller must call release when done.
func (s *MemoryStore) acquire(id string, create bool) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[id]
	if ok && s.expired(sess, now) && sess.refs == 0 {
		s.removeLocked(sess)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		s.makeRoomLocked()
		sess = &session{id: id, messages: make([]chat.Message, 0, defaultHistoryCapacity)}
		sess.elem = s.lru.PushFront(sess)
		s.sessions[id] = sess
	} else {
		s.lru.MoveToFront(sess.elem)
	}
	sess.touched = now
	sess.refs++
	return sess
}

func (s *MemoryStore) release(sess *session) {
	s.mu.Lock()
	sess.refs--
	s.mu.Unlock()
}

func (s *MemoryStore) expired(sess *session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.touched) > s.ttl
}

func (s *MemoryStore) removeLocked(sess *session) {
	s.lru.Remove(sess.elem)
	delete(s.sessions, sess.id)
}

// makeRoomLocked evicts least recently used idle sessions until a new one fits.
func (s *MemoryStore) makeRoomLocked() {
	if s.maxSessions <= 0 {
		return
	}
	for e := s.lru.Back(); e != nil && len(s.sessions) >= s.maxSessions; {
		prev := e.Prev()
		sess := e.Value.(*session)
		if sess.refs == 0 {
			s.removeLocked(sess)
			logger.Debugf("[session] evicted least recently used session=%s", sess.id)
		}
		e = prev
	}
}

// Get returns a copy of the stored history.
func (s *MemoryStore) Get(_ context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	sess := s.acquire(sessionID, false)
	if sess == nil {
		return []chat.Message{}, nil
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return chat.Clone(sess.messages), nil
}

// Append adds messages to the end of the history.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, messages ...chat.Message) error {
	return s.Update(ctx, sessionID, func(history []chat.Message) []chat.Message {
		return append(history, messages...)
	})
}

// Replace overwrites the history.
func (s *MemoryStore) Replace(ctx context.Context, sessionID string, messages []chat.Message) error {
	replacement := chat.Clone(messages)
	return s.Update(ctx, sessionID, func([]chat.Message) []chat.Message {
		return replacement
	})
}

// Update runs fn while holding the session's lock, so concurrent updates to
// one session are serialised and none is lost.
func (s *MemoryStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := s.acquire(sessionID, true)
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = chat.Clone(fn(chat.Clone(sess.messages)))
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		s.removeLocked(sess)
	}
	return nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), nil
}

// CleanupExpired drops idle sessions and returns how many were removed.
func (s *MemoryStore) CleanupExpired() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for e := s.lru.Back(); e != nil; {
		prev := e.Prev()
		sess := e.Value.(*session)
		if sess.refs == 0 && s.expired(sess, now) {
			s.removeLocked(sess)
			removed++
		}
		e = prev
	}
	return removed
}

// StartJanitor periodically calls CleanupExpired until ctx is cancelled or
// StopJanitor is called. Calling it twice is a no-op.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()
	if s.janitorCancel != nil {
		return
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	s.janitorCancel = cancel
	s.janitorDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.CleanupExpired(); removed > 0 {
					logger.Infof("[session] cleaned up %d expired sessions", removed)
				}
			}
		}
	}(s.janitorDone)
}

// StopJanitor stops the cleanup goroutine and waits for it to exit.
func (s *MemoryStore) StopJanitor() {
	s.janitorMu.Lock()
	cancel, done := s.janitorCancel, s.janitorDone
	s.janitorCancel, s.janitorDone = nil, nil
	s.janitorMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
