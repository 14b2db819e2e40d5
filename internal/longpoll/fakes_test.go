package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/longpoll/internal/botapi"
)

// manualScheduler hands out handles that only run when a test ticks them.
type manualScheduler struct {
	mu      sync.Mutex
	handles []*manualHandle
}

func (m *manualScheduler) Schedule(interval time.Duration, task func(ctx context.Context)) Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &manualHandle{
		ctx:    ctx,
		cancel: cancel,
		task:   task,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h
}

func (m *manualScheduler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

func (m *manualScheduler) latest(t *testing.T) *manualHandle {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		t.Fatalf("nothing scheduled")
	}
	return m.handles[len(m.handles)-1]
}

type manualHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	task   func(ctx context.Context)

	mu       sync.Mutex
	tick     sync.Mutex
	running  bool
	doneOnce sync.Once
	done     chan struct{}
}

// Tick runs one cycle on the calling goroutine. It reports false once the
// handle is cancelled.
func (h *manualHandle) Tick() bool {
	h.tick.Lock()
	defer h.tick.Unlock()

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		h.finish()
		return false
	}
	h.running = true
	h.mu.Unlock()

	h.task(h.ctx)

	h.mu.Lock()
	h.running = false
	cancelled := h.ctx.Err() != nil
	h.mu.Unlock()
	if cancelled {
		h.finish()
	}
	return true
}

func (h *manualHandle) Cancel() {
	h.mu.Lock()
	h.cancel()
	running := h.running
	h.mu.Unlock()
	if !running {
		h.finish()
	}
}

func (h *manualHandle) Cancelled() bool {
	return h.ctx.Err() != nil
}

func (h *manualHandle) Done() <-chan struct{} {
	return h.done
}

func (h *manualHandle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// fakeReply is one scripted getUpdates answer.
type fakeReply struct {
	status int
	body   string
	err    error
	// block holds the reply until closed; started is closed when the call begins.
	block   chan struct{}
	started chan struct{}
}

// fakeTransport answers deleteWebhook with webhook and getUpdates from script.
// An exhausted script answers with an empty batch.
type fakeTransport struct {
	mu       sync.Mutex
	webhook  fakeReply
	script   []fakeReply
	requests []botapi.Request
	idle     int
}

func newFakeTransport(script ...fakeReply) *fakeTransport {
	return &fakeTransport{
		webhook: fakeReply{status: 200, body: `{"ok":true,"result":true}`},
		script:  script,
	}
}

func (f *fakeTransport) Execute(ctx context.Context, req botapi.Request) (botapi.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var reply fakeReply
	switch {
	case req.Method == botapi.MethodDeleteWebhook:
		reply = f.webhook
	case len(f.script) > 0:
		reply = f.script[0]
		f.script = f.script[1:]
	default:
		reply = okUpdates()
	}
	f.mu.Unlock()

	if reply.started != nil {
		close(reply.started)
	}
	if reply.block != nil {
		<-reply.block
	}
	if reply.err != nil {
		return botapi.Response{}, reply.err
	}
	return botapi.Response{StatusCode: reply.status, Body: []byte(reply.body)}, nil
}

func (f *fakeTransport) CloseIdleConnections() {
	f.mu.Lock()
	f.idle++
	f.mu.Unlock()
}

func (f *fakeTransport) setWebhook(r fakeReply) {
	f.mu.Lock()
	f.webhook = r
	f.mu.Unlock()
}

func (f *fakeTransport) push(replies ...fakeReply) {
	f.mu.Lock()
	f.script = append(f.script, replies...)
	f.mu.Unlock()
}

// pollOffsets returns the offset of every getUpdates request seen so far.
func (f *fakeTransport) pollOffsets(t *testing.T) []int64 {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, req := range f.requests {
		if req.Method != botapi.MethodGetUpdates {
			continue
		}
		var body botapi.GetUpdates
		if err := json.Unmarshal(req.Body, &body); err != nil {
			t.Fatalf("decode getUpdates body: %v", err)
		}
		out = append(out, body.Offset)
	}
	return out
}

func okUpdates(ids ...int64) fakeReply {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"chat":{"id":1}}}`, id, id))
	}
	return fakeReply{status: 200, body: `{"ok":true,"result":[` + strings.Join(parts, ",") + `]}`}
}

func rejected(status int, retryAfter int) fakeReply {
	body := fmt.Sprintf(`{"ok":false,"error_code":%d,"description":"Too Many Requests"}`, status)
	if retryAfter > 0 {
		body = fmt.Sprintf(`{"ok":false,"error_code":%d,"description":"Too Many Requests","parameters":{"retry_after":%d}}`, status, retryAfter)
	}
	return fakeReply{status: status, body: body}
}

// recorder collects consumed update ids.
type recorder struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (r *recorder) Consume(_ context.Context, u botapi.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, u.UpdateID)
	return r.err
}

func (r *recorder) seen() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func equalIDs(got []int64, want ...int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

const testToken = "111:AAA"

func newManualApp(t *testing.T, transport *fakeTransport) (*Application, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	app := NewApplication(
		WithScheduler(sched),
		WithTransportFactory(func() (botapi.Transport, error) { return transport, nil }),
	)
	t.Cleanup(func() { _ = app.Close() })
	return app, sched
}
