package longpoll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/observability"
	"github.com/rs/zerolog/log"
)

// TransportFactory creates the transport a newly registered session owns.
// Without one, each session gets an HTTPTransport whose timeout outlasts its
// long poll.
type TransportFactory func() (botapi.Transport, error)

// Option configures an Application.
type Option func(*Application)

// SessionOption adjusts one bot's session before it is created.
type SessionOption func(*SessionConfig)

func WithTransportFactory(f TransportFactory) Option {
	return func(a *Application) {
		if f != nil {
			a.newTransport = f
		}
	}
}

func WithScheduler(s Scheduler) Option {
	return func(a *Application) {
		if s != nil {
			a.scheduler = s
		}
	}
}

func WithCodec(c botapi.Codec) Option {
	return func(a *Application) {
		if c != nil {
			a.codec = c
		}
	}
}

// WithSessionDefaults sets the poll config every registered bot starts from.
func WithSessionDefaults(cfg Config) Option {
	return func(a *Application) {
		a.defaults = cfg
	}
}

func WithAfterRegistration(hook func(*Session)) Option {
	return func(a *Application) {
		if hook != nil {
			a.hooks = append(a.hooks, hook)
		}
	}
}

func WithEndpoint(e botapi.Endpoint) SessionOption {
	return func(c *SessionConfig) { c.Poll.Endpoint = e }
}

func WithPollInterval(d time.Duration) SessionOption {
	return func(c *SessionConfig) { c.Poll.PollInterval = d }
}

func WithLongPollTimeout(d time.Duration) SessionOption {
	return func(c *SessionConfig) { c.Poll.LongPollTimeout = d }
}

func WithBackoff(b BackoffConfig) SessionOption {
	return func(c *SessionConfig) { c.Poll.Backoff = b }
}

func WithInitialOffset(offset int64) SessionOption {
	return func(c *SessionConfig) { c.Poll.InitialOffset = offset }
}

func WithLimit(limit int) SessionOption {
	return func(c *SessionConfig) { c.Poll.Limit = limit }
}

func WithAllowedUpdates(kinds ...string) SessionOption {
	return func(c *SessionConfig) { c.Poll.AllowedUpdates = append([]string(nil), kinds...) }
}

func WithDropPendingUpdates(drop bool) SessionOption {
	return func(c *SessionConfig) { c.Poll.DropPendingUpdates = drop }
}

func WithRequestFactory(f RequestFactory) SessionOption {
	return func(c *SessionConfig) { c.Poll.RequestFactory = f }
}

func WithDeliveryQueue(n int) SessionOption {
	return func(c *SessionConfig) { c.Poll.DeliveryQueue = n }
}

func WithInlineDelivery() SessionOption {
	return func(c *SessionConfig) { c.Poll.InlineDelivery = true }
}

// WithTransport shares an existing transport instead of calling the factory.
func WithTransport(t botapi.Transport) SessionOption {
	return func(c *SessionConfig) { c.Transport = t }
}

// Application is the registry of sessions keyed by bot token.
type Application struct {
	newTransport TransportFactory
	scheduler    Scheduler
	codec        botapi.Codec
	defaults     Config
	events       *eventHub

	mu       sync.RWMutex
	sessions map[string]*Session
	hooks    []func(*Session)
	closed   bool
}

func NewApplication(opts ...Option) *Application {
	a := &Application{
		scheduler: TimerScheduler{},
		codec:     botapi.JSONCodec{},
		defaults:  DefaultConfig(),
		events:    newEventHub(),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// defaultTransport sizes the client timeout for the session's long poll.
func defaultTransport(poll Config) (botapi.Transport, error) {
	return botapi.NewHTTPTransport(botapi.DefaultHTTPTransportConfig().ForLongPoll(poll.LongPollTimeout))
}

// OnAfterRegistration adds a hook run synchronously with every session that
// registers successfully from now on.
func (a *Application) OnAfterRegistration(hook func(*Session)) {
	if hook == nil {
		return
	}
	a.mu.Lock()
	a.hooks = append(a.hooks, hook)
	a.mu.Unlock()
}

// Subscribe streams lifecycle events until cancel is called or the
// Application closes.
func (a *Application) Subscribe() (<-chan LifecycleEvent, func()) {
	return a.events.subscribe()
}

// RegisterBot creates and starts a session for token. Registration and the
// first start succeed or fail together.
func (a *Application) RegisterBot(ctx context.Context, token string, consumer Consumer, opts ...SessionOption) (*Session, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}
	if consumer == nil {
		return nil, ErrConsumerRequired
	}
	label := botapi.MaskToken(token)

	a.mu.RLock()
	closed := a.closed
	_, exists := a.sessions[token]
	a.mu.RUnlock()
	if closed {
		return nil, ErrApplicationClosed
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, label)
	}

	cfg := SessionConfig{
		Token:     token,
		Consumer:  consumer,
		Codec:     a.codec,
		Scheduler: a.scheduler,
		Poll:      a.defaults,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Transport == nil {
		var t botapi.Transport
		var err error
		if a.newTransport != nil {
			t, err = a.newTransport()
		} else {
			t, err = defaultTransport(cfg.Poll)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: transport: %w", ErrInitialization, label, err)
		}
		cfg.Transport = t
	}
	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = session.Close()
		return nil, ErrApplicationClosed
	}
	if _, ok := a.sessions[token]; ok {
		a.mu.Unlock()
		_ = session.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, label)
	}
	a.sessions[token] = session
	count := len(a.sessions)
	a.mu.Unlock()
	observability.SetSessionsRegistered(count)

	if err := session.Start(ctx); err != nil {
		a.remove(token, session)
		_ = session.Close()
		log.Error().
			Str("component", "longpoll.application").
			Str("bot", label).
			Err(err).
			Msg("registration rolled back")
		return nil, err
	}

	// Close or UnregisterBot may have run while Start was talking to the API.
	a.mu.RLock()
	current := a.sessions[token]
	closed = a.closed
	hooks := slices.Clone(a.hooks)
	a.mu.RUnlock()
	if current != session {
		_ = session.Close()
		if closed {
			return nil, ErrApplicationClosed
		}
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, label)
	}

	log.Info().
		Str("component", "longpoll.application").
		Str("bot", label).
		Msg("bot registered")
	a.events.publish(LifecycleEvent{Kind: EventRegistered, Bot: label})

	for _, hook := range hooks {
		a.runHook(hook, session)
	}
	return session, nil
}

func (a *Application) runHook(hook func(*Session), s *Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "longpoll.application").
				Str("bot", s.Label()).
				Interface("panic", r).
				Msg("after-registration hook panicked")
		}
	}()
	hook(s)
}

// remove deletes token only if it still maps to s.
func (a *Application) remove(token string, s *Session) {
	a.mu.Lock()
	if a.sessions[token] == s {
		delete(a.sessions, token)
	}
	count := len(a.sessions)
	a.mu.Unlock()
	observability.SetSessionsRegistered(count)
}

func (a *Application) UnregisterBot(token string) error {
	a.mu.Lock()
	session, ok := a.sessions[token]
	if ok {
		delete(a.sessions, token)
	}
	count := len(a.sessions)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, botapi.MaskToken(token))
	}
	observability.SetSessionsRegistered(count)

	_ = session.Close()
	log.Info().
		Str("component", "longpoll.application").
		Str("bot", session.Label()).
		Msg("bot unregistered")
	a.events.publish(LifecycleEvent{Kind: EventUnregistered, Bot: session.Label()})
	return nil
}

// IsRunning reports whether every registered session is running. It is true
// when nothing is registered.
func (a *Application) IsRunning() bool {
	for _, s := range a.snapshot() {
		if !s.IsRunning() {
			return false
		}
	}
	return true
}

// Start starts every stopped session. Failures are joined; sessions that
// started stay running.
func (a *Application) Start(ctx context.Context) error {
	if a.isClosed() {
		return ErrApplicationClosed
	}
	var stopped []*Session
	for _, s := range a.snapshot() {
		if !s.IsRunning() {
			stopped = append(stopped, s)
		}
	}
	if len(stopped) == 0 {
		return ErrAllAlreadyRunning
	}

	var errs []error
	for _, s := range stopped {
		if err := s.Start(ctx); err != nil {
			errs = append(errs, err)
			a.events.publish(LifecycleEvent{Kind: EventStarted, Bot: s.Label(), Error: err.Error()})
			continue
		}
		a.events.publish(LifecycleEvent{Kind: EventStarted, Bot: s.Label()})
	}
	return errors.Join(errs...)
}

// Stop stops every running session.
func (a *Application) Stop() error {
	var running []*Session
	for _, s := range a.snapshot() {
		if s.IsRunning() {
			running = append(running, s)
		}
	}
	if len(running) == 0 {
		return ErrAllAlreadyStopped
	}
	for _, s := range running {
		s.Stop()
		a.events.publish(LifecycleEvent{Kind: EventStopped, Bot: s.Label()})
	}
	return nil
}

// Close stops every session, empties the registry and ends event
// subscriptions. Calling it again is a no-op.
func (a *Application) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[string]*Session)
	a.mu.Unlock()
	observability.SetSessionsRegistered(0)

	for _, s := range sessions {
		_ = s.Close()
	}
	log.Info().
		Str("component", "longpoll.application").
		Int("sessions", len(sessions)).
		Msg("application closed")
	a.events.publish(LifecycleEvent{Kind: EventClosed})
	a.events.close()
	return nil
}

// Wait blocks until every currently registered session has drained.
func (a *Application) Wait(ctx context.Context) error {
	for _, s := range a.snapshot() {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Sessions lists registered sessions ordered by label.
func (a *Application) Sessions() []*Session {
	sessions := a.snapshot()
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Label() == sessions[j].Label() {
			return sessions[i].Token() < sessions[j].Token()
		}
		return sessions[i].Label() < sessions[j].Label()
	})
	return sessions
}

func (a *Application) Session(token string) (*Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[token]
	return s, ok
}

func (a *Application) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

func (a *Application) snapshot() []*Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s)
	}
	return out
}

func (a *Application) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}
