package longpoll

import (
	"context"
	"time"
)

// Handle controls one scheduled task.
type Handle interface {
	// Cancel stops future runs. A run in progress sees its ctx cancelled
	// but is not interrupted otherwise.
	Cancel()
	Cancelled() bool
	// Done closes once the task will never run again.
	Done() <-chan struct{}
}

// Scheduler runs a task repeatedly with a fixed delay between runs.
// Runs of one schedule never overlap.
type Scheduler interface {
	Schedule(interval time.Duration, task func(ctx context.Context)) Handle
}

// TimerScheduler gives every schedule its own goroutine, so one session's
// backoff wait cannot delay another session's ticks.
type TimerScheduler struct{}

var _ Scheduler = TimerScheduler{}

func (TimerScheduler) Schedule(interval time.Duration, task func(ctx context.Context)) Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &timerHandle{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.run(interval, task)
	return h
}

type timerHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *timerHandle) run(interval time.Duration, task func(ctx context.Context)) {
	defer close(h.done)
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-timer.C:
		}
		if h.ctx.Err() != nil {
			return
		}
		task(h.ctx)
		timer.Reset(interval)
	}
}

func (h *timerHandle) Cancel() {
	h.cancel()
}

func (h *timerHandle) Cancelled() bool {
	return h.ctx.Err() != nil
}

func (h *timerHandle) Done() <-chan struct{} {
	return h.done
}

// sleepContext waits d or until ctx ends; it reports whether the full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
