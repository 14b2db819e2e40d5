package longpoll

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/observability"
	"github.com/rs/zerolog/log"
)

// SessionConfig wires one Session to its collaborators.
type SessionConfig struct {
	Token     string
	Consumer  Consumer
	Transport botapi.Transport
	Codec     botapi.Codec
	Scheduler Scheduler
	Poll      Config
	// Rand drives backoff jitter; nil seeds from the clock.
	Rand *rand.Rand
}

// Stats is a point-in-time view of a session for status surfaces.
type Stats struct {
	Bot               string    `json:"bot"`
	Endpoint          string    `json:"endpoint"`
	Running           bool      `json:"running"`
	LastSeenID        int64     `json:"last_seen_id"`
	Cycles            uint64    `json:"cycles"`
	Delivered         uint64    `json:"delivered"`
	Duplicates        uint64    `json:"duplicates"`
	Rejections        uint64    `json:"rejections"`
	TransportFailures uint64    `json:"transport_failures"`
	ConsumerErrors    uint64    `json:"consumer_errors"`
	BackoffAttempts   int       `json:"backoff_attempts"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at"`
	LastSuccessAt     time.Time `json:"last_success_at"`
	StartedAt         time.Time `json:"started_at"`
}

// Session owns one polling loop for one bot token.
//
// The cursor and backoff state are written only by the loop goroutine. Start
// waits for a previous loop to drain, so there is never more than one writer.
type Session struct {
	token     string
	label     string
	cfg       Config
	client    *botapi.Client
	consumer  Consumer
	scheduler Scheduler
	backoff   *Backoff

	// lifeMu serializes Start and Stop; loopDone is guarded by it.
	lifeMu   sync.Mutex
	loopDone chan struct{}

	mu         sync.Mutex
	handle     Handle
	lastSeenID int64
	stats      Stats
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Token == "" {
		return nil, ErrTokenRequired
	}
	if cfg.Consumer == nil {
		return nil, ErrConsumerRequired
	}
	if cfg.Transport == nil {
		return nil, ErrTransportRequired
	}
	if cfg.Codec == nil {
		cfg.Codec = botapi.JSONCodec{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TimerScheduler{}
	}
	poll := cfg.Poll.WithDefaults()
	label := botapi.MaskToken(cfg.Token)

	return &Session{
		token:      cfg.Token,
		label:      label,
		cfg:        poll,
		client:     botapi.NewClient(cfg.Transport, cfg.Codec, poll.Endpoint),
		consumer:   cfg.Consumer,
		scheduler:  cfg.Scheduler,
		backoff:    NewBackoff(poll.Backoff, cfg.Rand),
		lastSeenID: poll.InitialOffset,
		stats: Stats{
			Bot:      label,
			Endpoint: poll.Endpoint.String(),
		},
	}, nil
}

func (s *Session) Token() string { return s.token }

// Label is the masked token used in logs, metrics and status output.
func (s *Session) Label() string { return s.label }

func (s *Session) Config() Config { return s.cfg }

func (s *Session) LastSeenID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenID
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.LastSeenID = s.lastSeenID
	st.Running = s.runningLocked()
	return st
}

// Start clears any webhook and schedules fetch cycles. It is a no-op while
// the session is already running.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.IsRunning() {
		return nil
	}
	if s.loopDone != nil {
		if err := s.checkReentry(ctx, s.loopDone); err != nil {
			return err
		}
		select {
		case <-s.loopDone:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: previous loop still draining: %w", ErrInitialization, s.label, ctx.Err())
		}
	}

	err := s.client.DeleteWebhook(ctx, s.token, botapi.DeleteWebhook{
		DropPendingUpdates: s.cfg.DropPendingUpdates,
	})
	if err != nil {
		log.Error().
			Str("component", "longpoll.session").
			Str("bot", s.label).
			Str("endpoint", s.cfg.Endpoint.String()).
			Err(err).
			Msg("session initialization failed")
		return fmt.Errorf("%w: %s: %w", ErrInitialization, s.label, err)
	}

	d := newDispatcher(withDelivering(context.Background(), s), s.label, s.consumer, s.cfg.DeliveryQueue, s.cfg.InlineDelivery, s.recordConsumerResult)
	h := s.scheduler.Schedule(s.cfg.PollInterval, func(ctx context.Context) {
		s.poll(ctx, d)
	})
	done := make(chan struct{})
	go func() {
		<-h.Done()
		d.closeAndWait()
		close(done)
	}()
	s.loopDone = done

	s.mu.Lock()
	s.handle = h
	s.stats.StartedAt = time.Now()
	cursor := s.lastSeenID
	s.mu.Unlock()

	log.Info().
		Str("component", "longpoll.session").
		Str("bot", s.label).
		Str("endpoint", s.cfg.Endpoint.String()).
		Int64("last_seen_id", cursor).
		Dur("interval", s.cfg.PollInterval).
		Msg("session started")
	return nil
}

// Stop cancels pending ticks. A request already in flight finishes and its
// updates are still delivered. The cursor is kept for a later Start.
func (s *Session) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	h.Cancel()
	log.Info().
		Str("component", "longpoll.session").
		Str("bot", s.label).
		Int64("last_seen_id", s.LastSeenID()).
		Msg("session stopped")
}

func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Session) runningLocked() bool {
	return s.handle != nil && !s.handle.Cancelled()
}

// Close stops the session and drops idle transport connections.
func (s *Session) Close() error {
	s.Stop()
	if c, ok := s.client.Transport().(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// Wait blocks until the last started loop has finished its in-flight cycle
// and the consumer has drained every accepted update.
func (s *Session) Wait(ctx context.Context) error {
	s.lifeMu.Lock()
	done := s.loopDone
	s.lifeMu.Unlock()
	if done == nil {
		return nil
	}
	if err := s.checkReentry(ctx, done); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkReentry fails when ctx comes from this session's own consumer and
// the loop it would wait for has not finished.
func (s *Session) checkReentry(ctx context.Context, done <-chan struct{}) error {
	if deliveringFor(ctx) != s {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrReentrant, s.label)
	}
}

// poll runs one fetch cycle. ctx is cancelled by Stop; the request itself
// ignores that so an in-flight long poll completes.
func (s *Session) poll(ctx context.Context, d *dispatcher) {
	s.mu.Lock()
	cursor := s.lastSeenID
	s.mu.Unlock()

	req := s.cfg.RequestFactory(cursor)
	started := time.Now()
	updates, err := s.client.GetUpdates(context.WithoutCancel(ctx), s.token, req)
	elapsed := time.Since(started)
	if err != nil {
		s.fail(ctx, err, elapsed)
		return
	}
	s.backoff.Reset()

	fresh, dropped := freshUpdates(updates, cursor)
	next := cursor
	if len(fresh) > 0 {
		next = fresh[len(fresh)-1].UpdateID
	}

	s.mu.Lock()
	s.lastSeenID = next
	s.stats.Cycles++
	s.stats.Duplicates += uint64(dropped)
	s.stats.BackoffAttempts = 0
	s.stats.LastSuccessAt = time.Now()
	s.mu.Unlock()

	observability.RecordPollCycle(s.label, observability.OutcomeSuccess, elapsed)
	observability.RecordUpdates(s.label, len(fresh), dropped)
	if dropped > 0 {
		log.Debug().
			Str("component", "longpoll.session").
			Str("bot", s.label).
			Int64("last_seen_id", cursor).
			Int("dropped", dropped).
			Msg("dropped stale updates")
	}

	for _, update := range fresh {
		d.Deliver(update)
	}
}

func (s *Session) fail(ctx context.Context, err error, elapsed time.Duration) {
	now := time.Now()
	var rejection *botapi.RejectionError
	if errors.As(err, &rejection) {
		delay := s.backoff.NextDelay()
		if rejection.RetryAfter > delay {
			delay = rejection.RetryAfter
		}
		attempts := s.backoff.Attempts()

		s.mu.Lock()
		s.stats.Cycles++
		s.stats.Rejections++
		s.stats.BackoffAttempts = attempts
		s.stats.LastError = err.Error()
		s.stats.LastErrorAt = now
		s.mu.Unlock()

		observability.RecordPollCycle(s.label, observability.OutcomeRejected, elapsed)
		observability.RecordBackoff(s.label, delay)
		log.Warn().
			Str("component", "longpoll.session").
			Str("bot", s.label).
			Int("code", rejection.Code).
			Str("description", rejection.Description).
			Int("attempt", attempts).
			Dur("delay", delay).
			Msg("getUpdates rejected; backing off")

		sleepContext(ctx, delay)
		return
	}

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.TransportFailures++
	s.stats.LastError = err.Error()
	s.stats.LastErrorAt = now
	s.mu.Unlock()

	observability.RecordPollCycle(s.label, observability.OutcomeTransport, elapsed)
	log.Error().
		Str("component", "longpoll.session").
		Str("bot", s.label).
		Err(err).
		Msg("getUpdates failed")
}

func (s *Session) recordConsumerResult(err error) {
	s.mu.Lock()
	if err != nil {
		s.stats.ConsumerErrors++
		s.stats.LastError = err.Error()
		s.stats.LastErrorAt = time.Now()
	} else {
		s.stats.Delivered++
	}
	s.mu.Unlock()
	if err != nil {
		observability.RecordConsumerError(s.label)
	}
}

// freshUpdates keeps updates with UpdateID > cursor, ascending and without
// repeated ids. It returns how many were dropped.
func freshUpdates(batch []botapi.Update, cursor int64) ([]botapi.Update, int) {
	if len(batch) == 0 {
		return nil, 0
	}
	sorted := make([]botapi.Update, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdateID < sorted[j].UpdateID
	})

	fresh := sorted[:0]
	last := cursor
	for _, u := range sorted {
		if u.UpdateID <= last {
			continue
		}
		fresh = append(fresh, u)
		last = u.UpdateID
	}
	return fresh, len(batch) - len(fresh)
}
