package longpoll

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
	if got := NextBackoffDelay(cfg, 0, nil); got != cfg.InitialDelay {
		t.Fatalf("attempt 0 should behave like attempt 1, got %s", got)
	}
	if got := NextBackoffDelay(cfg, 10_000, nil); got != cfg.MaxDelay {
		t.Fatalf("huge attempt: got %s want cap", got)
	}
}

func TestNextBackoffDelayJitterStaysBetweenSteps(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 1.5, MaxDelay: 2 * time.Second, Jitter: true}
	plain := cfg
	plain.Jitter = false
	rng := rand.New(rand.NewSource(7))

	if got := NextBackoffDelay(cfg, 1, rng); got != cfg.InitialDelay {
		t.Fatalf("attempt 1 jittered to %s want %s", got, cfg.InitialDelay)
	}
	for attempt := 2; attempt <= 40; attempt++ {
		low := NextBackoffDelay(plain, attempt, nil)
		high := NextBackoffDelay(plain, attempt+1, nil)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < low || got > high || got > cfg.MaxDelay {
			t.Fatalf("attempt %d: jittered %s outside [%s, %s]", attempt, got, low, high)
		}
	}
}

func TestNextBackoffDelayClampsMultiplier(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 300 * time.Millisecond, Multiplier: 0.1, MaxDelay: time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := NextBackoffDelay(cfg, attempt, nil); got != cfg.InitialDelay {
			t.Fatalf("attempt %d: got %s want %s", attempt, got, cfg.InitialDelay)
		}
	}
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("zero config should not wait, got %s", got)
	}
}

func TestBackoffIsNonDecreasingAndResets(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 50 * time.Millisecond, Multiplier: 1.5, MaxDelay: 700 * time.Millisecond}, nil)

	var prev time.Duration
	for i := 0; i < 20; i++ {
		d := b.NextDelay()
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", i+1, d, prev)
		}
		if d > 700*time.Millisecond {
			t.Fatalf("delay %s exceeds cap", d)
		}
		prev = d
	}
	if b.Attempts() != 20 {
		t.Fatalf("attempts=%d want 20", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 {
		t.Fatalf("reset kept attempts=%d", b.Attempts())
	}
	if d := b.NextDelay(); d != 50*time.Millisecond {
		t.Fatalf("first delay after reset=%s want base", d)
	}
}

func TestBackoffDefaultConfigIsMonotoneWithJitter(t *testing.T) {
	cfg := DefaultConfig().WithDefaults().Backoff
	if !cfg.Jitter {
		t.Fatalf("default backoff should jitter")
	}

	for seed := int64(1); seed <= 20; seed++ {
		b := NewBackoff(cfg, rand.New(rand.NewSource(seed)))
		for round := 0; round < 3; round++ {
			var prev time.Duration
			for attempt := 1; attempt <= 30; attempt++ {
				d := b.NextDelay()
				if attempt == 1 && d != cfg.InitialDelay {
					t.Fatalf("seed %d round %d: first delay %s want base %s", seed, round, d, cfg.InitialDelay)
				}
				if d < prev {
					t.Fatalf("seed %d attempt %d: delay %s < previous %s", seed, attempt, d, prev)
				}
				if d > cfg.MaxDelay {
					t.Fatalf("seed %d attempt %d: delay %s exceeds cap %s", seed, attempt, d, cfg.MaxDelay)
				}
				prev = d
			}
			b.Reset()
		}
	}
}
