package httpconn

import (
	"context"
	"sync"
)

// Stream is the per-exchange handle handed to callers by Connection.CreateStream
// (spec.md §4.A, §6 "Consumer contract"). Handler callbacks run through
// runOnContext: synchronously on the goroutine that dispatches them
// (normally the connection's I/O executor), and skipped once the stream's
// context is done. They are not moved onto a separate goroutine.
type Stream interface {
	// ID returns the stream's connection-scoped identifier, starting at 1.
	ID() int
	// Context returns the execution context the stream was created with;
	// handlers are dispatched on it.
	Context() context.Context
	// Version returns the connection's protocol version.
	Version() Version
	// Connection returns the owning connection.
	Connection() *Connection

	// WriteHead emits the request head, honoring RequestWriter's framing
	// rules (spec.md §4.C). initialBody, if non-empty, is emitted with the
	// head. end marks the request as complete (no WriteBody will follow).
	// connect marks a CONNECT/Upgrade exchange that should become a tunnel
	// on a matching response.
	WriteHead(req RequestHead, chunked bool, initialBody []byte, end bool, connect bool) error
	// WriteBody emits a body chunk (or, in tunnel mode, raw bytes). end
	// marks the final chunk.
	WriteBody(chunk []byte, end bool) error
	// Reset idempotently aborts the stream. If the request head has already
	// been sent, the connection is torn down (spec.md §4.D reset path);
	// otherwise the stream is simply dropped from the write queue.
	Reset(cause error)

	// Pause stops delivery of inbound chunks until Fetch is called.
	Pause()
	// Fetch grants n additional inbound-chunk deliveries (n<=0: unlimited).
	Fetch(n int64)
	// Writable reports transport writability ANDed with "not reset".
	Writable() bool

	ContinueHandler(h func())
	HeadHandler(h func(ResponseHead))
	ChunkHandler(h func([]byte))
	EndHandler(h func(Headers))
	DrainHandler(h func())
	ExceptionHandler(h func(error))
}

// streamPromise resolves exactly once with either a usable stream or an
// error, and is the "admission promise" of spec.md §3/§9: it fires when the
// stream reaches the front of the write queue and may emit its head. In the
// public API it doubles as CreateStream's completion, exactly as the
// original collapses the two.
type streamPromise struct {
	once sync.Once
	fire func(Stream, error)
}

func (p *streamPromise) complete(s Stream, err error) {
	p.once.Do(func() {
		if p.fire != nil {
			p.fire(s, err)
		}
	})
}

// stream is the concrete Stream implementation. It holds a non-owning
// pointer back to its Connection (spec.md §9 "Cyclic references": the
// connection owns streams via the two deques, streams hold a handle back).
type stream struct {
	id      int
	conn    *Connection
	ctx     context.Context
	promise *streamPromise

	request       RequestHead
	response      *ResponseHead
	responseEnded bool

	bytesRead    int64
	bytesWritten int64

	metric interface{}
	trace  interface{}

	inbound *inboundQueue

	writable bool
	reset    bool

	continueHandler   func()
	headHandler       func(ResponseHead)
	chunkHandler      func([]byte)
	endHandler        func(Headers)
	drainHandler      func()
	exceptionHandler  func(error)
}

func newStream(conn *Connection, ctx context.Context, id int, promise *streamPromise) *stream {
	s := &stream{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		promise:  promise,
		inbound:  newInboundQueue(conn.config.InboundHighWater),
		writable: conn.transportWritable(),
	}
	s.inbound.setHandler(func(item inboundItem) {
		runOnContext(s.ctx, func() {
			if item.isEnd {
				if h := s.endHandler; h != nil {
					h(item.trailers)
				}
				return
			}
			if h := s.chunkHandler; h != nil {
				h(item.chunk)
			}
		})
	})
	s.inbound.setDrainHandler(func() {
		s.conn.executor.Execute(func() {
			s.conn.drainResponse(s)
		})
	})
	return s
}

func (s *stream) ID() int                { return s.id }
func (s *stream) Context() context.Context { return s.ctx }
func (s *stream) Version() Version       { return s.conn.version }
func (s *stream) Connection() *Connection { return s.conn }

func (s *stream) WriteHead(req RequestHead, chunked bool, initialBody []byte, end bool, connect bool) error {
	errCh := make(chan error, 1)
	s.conn.executor.Execute(func() {
		s.request = req
		errCh <- s.conn.beginRequest(s, req, chunked, initialBody, end, connect)
	})
	return <-errCh
}

func (s *stream) WriteBody(chunk []byte, end bool) error {
	errCh := make(chan error, 1)
	s.conn.executor.Execute(func() {
		errCh <- s.conn.writeBody(s, chunk, end)
	})
	return <-errCh
}

func (s *stream) Reset(cause error) {
	s.conn.mu.Lock()
	if s.reset {
		s.conn.mu.Unlock()
		return
	}
	s.reset = true
	s.conn.mu.Unlock()

	if cause == nil {
		cause = ErrStreamReset
	}
	s.dispatchException(cause)
	s.conn.executor.Execute(func() {
		s.conn.resetRequest(s)
	})
}

func (s *stream) Pause() {
	s.inbound.pause()
}

func (s *stream) Fetch(n int64) {
	s.inbound.fetch(n)
}

func (s *stream) Writable() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.writable && !s.reset
}

func (s *stream) ContinueHandler(h func())          { s.conn.executor.Execute(func() { s.continueHandler = h }) }
func (s *stream) HeadHandler(h func(ResponseHead))  { s.conn.executor.Execute(func() { s.headHandler = h }) }
func (s *stream) ChunkHandler(h func([]byte))       { s.conn.executor.Execute(func() { s.chunkHandler = h }) }
func (s *stream) EndHandler(h func(Headers))        { s.conn.executor.Execute(func() { s.endHandler = h }) }
func (s *stream) DrainHandler(h func())             { s.conn.executor.Execute(func() { s.drainHandler = h }) }
func (s *stream) ExceptionHandler(h func(error))    { s.conn.executor.Execute(func() { s.exceptionHandler = h }) }

// dispatchContinue, dispatchHead, dispatchException run the corresponding
// handler on the stream's own context, per spec.md §5 "Ordering guarantees".
func (s *stream) dispatchContinue() {
	runOnContext(s.ctx, func() {
		if h := s.continueHandler; h != nil {
			h()
		}
	})
}

func (s *stream) dispatchHead(resp ResponseHead) {
	runOnContext(s.ctx, func() {
		if h := s.headHandler; h != nil {
			h(resp)
		}
	})
}

func (s *stream) dispatchException(cause error) {
	runOnContext(s.ctx, func() {
		if h := s.exceptionHandler; h != nil {
			h(cause)
		}
	})
}

// handleWritabilityChanged applies the false->true edge rule of spec.md
// §4.A: the drain handler only fires on a rising edge.
func (s *stream) handleWritabilityChanged(writable bool) {
	s.conn.mu.Lock()
	rising := !s.writable && writable
	s.writable = writable
	handler := s.drainHandler
	s.conn.mu.Unlock()
	if rising && handler != nil {
		runOnContext(s.ctx, handler)
	}
}

// runOnContext executes fn, honoring cancellation of ctx by skipping fn if
// the context is already done. Stream handlers are plain callbacks rather
// than goroutines dispatched by a scheduler, so "dispatch on the stream's
// context" means "run synchronously unless the context says otherwise".
func runOnContext(ctx context.Context, fn func()) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	fn()
}
