package longpoll

import (
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
)

// RequestFactory builds the getUpdates call for the current cursor.
type RequestFactory func(lastSeenID int64) botapi.GetUpdates

// Config defines per-session polling behavior.
type Config struct {
	// PollInterval is the pause between the end of one cycle and the next.
	PollInterval time.Duration
	// InitialOffset seeds lastSeenID for a fresh session.
	InitialOffset      int64
	Limit              int
	LongPollTimeout    time.Duration
	AllowedUpdates     []string
	DropPendingUpdates bool
	Endpoint           botapi.Endpoint
	Backoff            BackoffConfig
	DeliveryQueue      int
	InlineDelivery     bool
	RequestFactory     RequestFactory
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    50 * time.Millisecond,
		Limit:           botapi.MaxUpdatesLimit,
		LongPollTimeout: 50 * time.Second,
		Endpoint:        botapi.DefaultEndpoint(),
		Backoff:         DefaultBackoffConfig(),
		DeliveryQueue:   256,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.InitialOffset < 0 {
		c.InitialOffset = 0
	}
	if c.Limit <= 0 || c.Limit > botapi.MaxUpdatesLimit {
		c.Limit = def.Limit
	}
	if c.LongPollTimeout < 0 {
		c.LongPollTimeout = 0
	}
	c.Endpoint = c.Endpoint.WithDefaults()
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier < 1.0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	if c.Backoff.MaxDelay < c.Backoff.InitialDelay {
		c.Backoff.MaxDelay = c.Backoff.InitialDelay
	}
	if c.DeliveryQueue <= 0 {
		c.DeliveryQueue = def.DeliveryQueue
	}
	if len(c.AllowedUpdates) > 0 {
		c.AllowedUpdates = append([]string(nil), c.AllowedUpdates...)
	}
	if c.RequestFactory == nil {
		c.RequestFactory = c.defaultRequest
	}
	return c
}

// defaultRequest asks for everything after the cursor.
func (c Config) defaultRequest(lastSeenID int64) botapi.GetUpdates {
	return botapi.GetUpdates{
		Offset:         lastSeenID + 1,
		Limit:          c.Limit,
		Timeout:        int(c.LongPollTimeout / time.Second),
		AllowedUpdates: c.AllowedUpdates,
	}
}
