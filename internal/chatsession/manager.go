package chatsession

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/longpoll"
	"github.com/rs/zerolog/log"
)

const DefaultTTL = 30 * time.Minute

// Manager keys chat sessions by chat id and expires idle ones.
type Manager struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager returns a Manager; ttl <= 0 keeps sessions forever.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[int64]*Session),
	}
}

// Get returns a live session for chatID and refreshes its access time.
func (m *Manager) Get(chatID int64) (*Session, bool) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, false
	}
	if s.expired(now, m.ttl) {
		delete(m.sessions, chatID)
		return nil, false
	}
	s.touch(now)
	return s, true
}

// Resolve returns the session for the chat msg belongs to, starting one if
// none is live.
func (m *Manager) Resolve(msg *botapi.Message) *Session {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	chatID := msg.Chat.ID
	if s, ok := m.sessions[chatID]; ok && !s.expired(now, m.ttl) {
		s.touch(now)
		return s
	}
	userName := msg.Chat.UserName
	if msg.From != nil && msg.From.UserName != "" {
		userName = msg.From.UserName
	}
	s := newSession(chatID, userName, now)
	m.sessions[chatID] = s
	return s
}

func (m *Manager) Remove(chatID int64) {
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops expired sessions and reports how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.expired(now, m.ttl) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.ttl
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Debug().
					Str("component", "chatsession").
					Int("expired", n).
					Int("live", m.Len()).
					Msg("expired chat sessions")
			}
		}
	}
}

// Handler processes one update. session is nil for updates without chat context.
type Handler func(ctx context.Context, update botapi.Update, session *Session) error

// Consumer adapts h into a longpoll.Consumer that resolves chat sessions
// through m before each call.
func Consumer(m *Manager, h Handler) longpoll.Consumer {
	return longpoll.ConsumerFunc(func(ctx context.Context, update botapi.Update) error {
		var s *Session
		if msg := update.ChatMessage(); msg != nil {
			s = m.Resolve(msg)
		}
		return h(ctx, update, s)
	})
}
