package httpconn

import (
	"context"
	"io"
	"sync"
	"time"
)

// fakeExecutor runs everything inline. Real connections trampoline onto a
// single I/O-loop goroutine (see internal/transport's gnet-backed Executor);
// tests don't need a second goroutine to exercise the state machine, so
// Execute simply calls fn synchronously, matching the teacher's own
// preference for hand-rolled fakes over a mocking framework.
type fakeExecutor struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (e *fakeExecutor) InLoop() bool      { return true }
func (e *fakeExecutor) Execute(fn func()) { fn() }

func (e *fakeExecutor) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{fn: fn}
	e.mu.Lock()
	e.timers = append(e.timers, t)
	e.mu.Unlock()
	return t
}

// fire runs a scheduled timer's callback as if its duration elapsed, unless
// it was already stopped. Tests use this to simulate a shutdown grace period
// expiring.
func (e *fakeExecutor) fire(i int) {
	e.mu.Lock()
	t := e.timers[i]
	e.mu.Unlock()
	if t.Stop() {
		t.fn()
	}
}

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
	fn      func()
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeTransport is a hand-rolled Transport double recording every write and
// close, matching the teacher's style of testing against small fakes rather
// than a mocking library (pkg/celeris/metrics_test.go, tracing_test.go).
type fakeTransport struct {
	mu sync.Mutex

	heads     []RequestHead
	content   [][]byte
	raw       [][]byte
	closed    bool
	writable  bool
	pauses    int
	resumes   int
	remote    string
	rawConn   io.ReadWriteCloser
	codecErr  error
	writeErr  error
	removedOK []InboundMessage
	removals  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{writable: true, remote: "203.0.113.1:443"}
}

func (t *fakeTransport) WriteRequestHead(head RequestHead, chunked bool, body []byte, end bool) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	t.mu.Lock()
	t.heads = append(t.heads, head)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) WriteContent(body []byte, end bool) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	t.mu.Lock()
	t.content = append(t.content, body)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) WriteRaw(body []byte) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	t.mu.Lock()
	t.raw = append(t.raw, body)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) RemoteAddr() string { return t.remote }

func (t *fakeTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable
}

func (t *fakeTransport) PauseReads() {
	t.mu.Lock()
	t.pauses++
	t.mu.Unlock()
}

func (t *fakeTransport) ResumeReads() {
	t.mu.Lock()
	t.resumes++
	t.mu.Unlock()
}

func (t *fakeTransport) RemoveHTTPCodec() ([]InboundMessage, error) {
	t.mu.Lock()
	t.removals++
	t.mu.Unlock()
	if t.codecErr != nil {
		return nil, t.codecErr
	}
	return t.removedOK, nil
}

func (t *fakeTransport) TakeRawConn() (io.ReadWriteCloser, error) {
	if t.rawConn != nil {
		return t.rawConn, nil
	}
	return nil, ErrClosed
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakePoolListener records recycle/evict calls, matching spec.md §4.E's
// pool-notification contract.
type fakePoolListener struct {
	mu       sync.Mutex
	recycled int
	evicted  int
}

func (p *fakePoolListener) OnRecycle() {
	p.mu.Lock()
	p.recycled++
	p.mu.Unlock()
}

func (p *fakePoolListener) OnEvict() {
	p.mu.Lock()
	p.evicted++
	p.mu.Unlock()
}

func (p *fakePoolListener) counts() (recycled, evicted int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recycled, p.evicted
}

// fakeMetrics/fakeTracer are minimal no-op-ish recorders, enough to assert
// that the dispatcher calls them at the right points without pulling in the
// real Prometheus/OTel implementations.
type fakeMetrics struct {
	mu          sync.Mutex
	begins      int
	responseEnd int
	requestEnd  int
	resets      int
	disconnects int
}

func (m *fakeMetrics) RequestBegin(uri string, req RequestHead) interface{} {
	m.mu.Lock()
	m.begins++
	m.mu.Unlock()
	return uri
}
func (m *fakeMetrics) ResponseBegin(handle interface{}, resp ResponseHead) {}
func (m *fakeMetrics) ResponseEnd(handle interface{}, bytesRead int64) {
	m.mu.Lock()
	m.responseEnd++
	m.mu.Unlock()
}
func (m *fakeMetrics) RequestEnd(handle interface{}, bytesWritten int64) {
	m.mu.Lock()
	m.requestEnd++
	m.mu.Unlock()
}
func (m *fakeMetrics) RequestReset(handle interface{}) {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}
func (m *fakeMetrics) EndpointDisconnected() {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
}
func (m *fakeMetrics) Connected(ws *WebSocket) interface{} { return ws }

type fakeTracer struct {
	mu    sync.Mutex
	sent  int
	ended int
}

func (t *fakeTracer) SendRequest(ctx context.Context, req RequestHead, opName string, headerSink func(key, val string), tags TagExtractor) interface{} {
	t.mu.Lock()
	t.sent++
	t.mu.Unlock()
	return nil
}

func (t *fakeTracer) ReceiveResponse(ctx context.Context, resp *ResponseHead, handle interface{}, err error, tags TagExtractor) {
	t.mu.Lock()
	t.ended++
	t.mu.Unlock()
}
