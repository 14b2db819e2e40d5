package chatsession

import (
	"sync"
	"time"
)

// Session is the in-memory state kept for one chat.
type Session struct {
	ChatID    int64
	UserName  string
	StartedAt time.Time

	mu         sync.Mutex
	lastAccess time.Time
	attrs      map[string]any
}

func newSession(chatID int64, userName string, now time.Time) *Session {
	return &Session{
		ChatID:     chatID,
		UserName:   userName,
		StartedAt:  now,
		lastAccess: now,
		attrs:      make(map[string]any),
	}
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.attrs, key)
	s.mu.Unlock()
}

func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastAccess()) > ttl
}
