package chatsession

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/testutil/testlog"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(ttl time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewManager(ttl)
	m.now = clock.now
	return m, clock
}

func message(chatID int64, user string) *botapi.Message {
	return &botapi.Message{MessageID: 1, Chat: botapi.Chat{ID: chatID}, From: &botapi.User{ID: 9, UserName: user}}
}

func TestManagerReusesSessionPerChat(t *testing.T) {
	testlog.Start(t)

	m, clock := newTestManager(time.Minute)
	first := m.Resolve(message(42, "alice"))
	first.Set("step", 2)

	clock.advance(30 * time.Second)
	again := m.Resolve(message(42, "alice"))
	if again != first {
		t.Fatalf("expected the same session for chat 42")
	}
	if v, ok := again.Get("step"); !ok || v.(int) != 2 {
		t.Fatalf("attribute lost: %v %v", v, ok)
	}
	if again.UserName != "alice" || again.ChatID != 42 {
		t.Fatalf("unexpected session identity: %+v", again)
	}
	if other := m.Resolve(message(7, "bob")); other == first {
		t.Fatalf("different chats shared a session")
	}
	if m.Len() != 2 {
		t.Fatalf("len=%d want 2", m.Len())
	}
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	testlog.Start(t)

	m, clock := newTestManager(time.Minute)
	first := m.Resolve(message(42, "alice"))
	m.Resolve(message(7, "bob"))

	clock.advance(45 * time.Second)
	if _, ok := m.Get(7); !ok {
		t.Fatalf("chat 7 expired early")
	}
	clock.advance(30 * time.Second)

	if _, ok := m.Get(42); ok {
		t.Fatalf("idle chat 42 should have expired")
	}
	if fresh := m.Resolve(message(42, "alice")); fresh == first {
		t.Fatalf("expired session was reused")
	}

	clock.advance(2 * time.Minute)
	if n := m.Sweep(); n != 2 {
		t.Fatalf("swept %d want 2", n)
	}
	if m.Len() != 0 {
		t.Fatalf("len=%d after sweep", m.Len())
	}
}

func TestConsumerResolvesChatContext(t *testing.T) {
	testlog.Start(t)

	m, _ := newTestManager(DefaultTTL)
	var seen []*Session
	consumer := Consumer(m, func(_ context.Context, _ botapi.Update, s *Session) error {
		seen = append(seen, s)
		return nil
	})

	updates := []botapi.Update{
		{UpdateID: 1, Message: message(42, "alice")},
		{UpdateID: 2, CallbackQuery: &botapi.CallbackQuery{ID: "cb", Message: message(42, "alice")}},
		{UpdateID: 3},
	}
	for _, u := range updates {
		if err := consumer.Consume(context.Background(), u); err != nil {
			t.Fatalf("consume %d: %v", u.UpdateID, err)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("handler calls=%d want 3", len(seen))
	}
	if seen[0] == nil || seen[0] != seen[1] {
		t.Fatalf("callback did not reuse the chat session")
	}
	if seen[2] != nil {
		t.Fatalf("update without chat context got a session")
	}
}

func TestManagerRunStopsWithContext(t *testing.T) {
	testlog.Start(t)

	m := NewManager(time.Millisecond)
	m.Resolve(message(1, "x"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 2*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if m.Len() != 0 {
		t.Fatalf("run never swept the idle session")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
