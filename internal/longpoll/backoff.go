package longpoll

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   1.5,
		MaxDelay:     time.Minute,
		Jitter:       true,
	}
}

// NextBackoffDelay returns the retry delay for attempt N (1-based). Attempt 1
// is always InitialDelay. With Jitter, attempt N lands somewhere in
// [step(N), step(N+1)), so delays never shrink as attempts grow and never
// pass MaxDelay.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := backoffStep(cfg, attempt)
	if cfg.Jitter && rng != nil && attempt > 1 {
		if next := backoffStep(cfg, attempt+1); next > delay && next < float64(math.MaxInt64) {
			delay += rng.Float64() * (next - delay)
		}
	}
	if delay >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// backoffStep is the un-jittered delay for attempt, capped at MaxDelay.
func backoffStep(cfg BackoffConfig, attempt int) float64 {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return delay
}

// Backoff counts consecutive failures. It is not safe for concurrent use;
// a Session only touches it from its poll loop.
type Backoff struct {
	cfg      BackoffConfig
	attempts int
	rng      *rand.Rand
}

func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	if rng == nil && cfg.Jitter {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Backoff{cfg: cfg, rng: rng}
}

// NextDelay records one more failure and returns how long to wait before retrying.
func (b *Backoff) NextDelay() time.Duration {
	if b.attempts < math.MaxInt32 {
		b.attempts++
	}
	return NextBackoffDelay(b.cfg, b.attempts, b.rng)
}

func (b *Backoff) Reset() {
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	return b.attempts
}
