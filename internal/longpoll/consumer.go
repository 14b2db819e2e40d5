package longpoll

import (
	"context"
	"fmt"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/rs/zerolog/log"
)

// Consumer receives a session's updates one at a time in ascending update_id order.
// A returned error is logged and counted; it never stops the session.
//
// A consumer may Stop its own session. Start and Wait on that session must be
// given the ctx passed to Consume; they then fail with ErrReentrant instead of
// waiting for a loop that is blocked on the consumer itself.
type Consumer interface {
	Consume(ctx context.Context, update botapi.Update) error
}

type ConsumerFunc func(ctx context.Context, update botapi.Update) error

func (f ConsumerFunc) Consume(ctx context.Context, update botapi.Update) error {
	return f(ctx, update)
}

// dispatcher serializes deliveries for one poll loop. With a queue it runs
// the consumer on its own goroutine; without one it delivers inline.
type dispatcher struct {
	ctx      context.Context
	label    string
	consumer Consumer
	queue    chan botapi.Update
	done     chan struct{}
	onResult func(err error)
}

func newDispatcher(ctx context.Context, label string, consumer Consumer, queueSize int, inline bool, onResult func(error)) *dispatcher {
	d := &dispatcher{
		ctx:      ctx,
		label:    label,
		consumer: consumer,
		done:     make(chan struct{}),
		onResult: onResult,
	}
	if inline {
		close(d.done)
		return d
	}
	d.queue = make(chan botapi.Update, queueSize)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for update := range d.queue {
		d.deliver(update)
	}
}

// Deliver blocks while the queue is full; accepted updates are never dropped
// because the cursor has already moved past them.
func (d *dispatcher) Deliver(update botapi.Update) {
	if d.queue == nil {
		d.deliver(update)
		return
	}
	d.queue <- update
}

// closeAndWait drains queued updates and returns once the consumer is idle.
func (d *dispatcher) closeAndWait() {
	if d.queue != nil {
		close(d.queue)
	}
	<-d.done
}

func (d *dispatcher) deliver(update botapi.Update) {
	err := d.consumeSafely(update)
	if err != nil {
		log.Error().
			Str("component", "longpoll.dispatcher").
			Str("bot", d.label).
			Int64("update_id", update.UpdateID).
			Err(err).
			Msg("consumer failed")
	}
	if d.onResult != nil {
		d.onResult(err)
	}
}

func (d *dispatcher) consumeSafely(update botapi.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("longpoll: consumer panic: %v", r)
		}
	}()
	return d.consumer.Consume(d.ctx, update)
}

type deliveringKey struct{}

// withDelivering marks ctx as belonging to a delivery of s.
func withDelivering(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, deliveringKey{}, s)
}

func deliveringFor(ctx context.Context) *Session {
	s, _ := ctx.Value(deliveringKey{}).(*Session)
	return s
}
