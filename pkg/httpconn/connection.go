package httpconn

import (
	"context"
	"log"
	"sync"
)

// Connection is a single, long-lived, bidirectional HTTP/1.x client
// connection multiplexer (spec.md §1). It owns the pipeline state machine,
// the per-stream lifecycle, backpressure coordination with the transport,
// keep-alive/recycle/shutdown semantics, and CONNECT/WebSocket upgrade
// handoff. Every exported method is safe to call from any goroutine: it
// either already runs on the connection's Executor or is trampolined onto
// it (spec.md §5).
type Connection struct {
	transport Transport
	executor  Executor
	version   Version
	server    string
	ssl       bool
	config    Config
	metrics   Metrics
	tracer    Tracer
	listener  PoolListener
	logger    *log.Logger

	// mu guards the fields below. It is held only for short bookkeeping
	// sections; handler dispatch and transport writes never happen while
	// it is held (spec.md §5).
	mu sync.Mutex

	pipeline pipelineQueues

	closed   bool
	shutdown bool

	closeAfterCurrent bool
	isTunnel          bool

	keepAliveTimeoutSeconds int
	expirationTimestamp     int64 // unix seconds; 0 means "infinite"

	nextStreamID int

	webSocket *WebSocket

	invalidMessageSink func(interface{})

	shutdownTimer   Timer
	shutdownWaiters []func(error)

	closeOnce sync.Once
}

// NewConnection wires together the components described in spec.md §4 into
// a single usable connection. transport and executor are the external
// collaborators of spec.md §1; metrics, tracer and listener may be nil, in
// which case they are treated as no-ops.
func NewConnection(transport Transport, executor Executor, version Version, server string, ssl bool, cfg Config, metrics Metrics, tracer Tracer, listener PoolListener) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		transport:               transport,
		executor:                executor,
		version:                 version,
		server:                  server,
		ssl:                     ssl,
		config:                  cfg,
		metrics:                 metrics,
		tracer:                  tracer,
		listener:                listener,
		logger:                  cfg.Logger,
		keepAliveTimeoutSeconds: cfg.KeepAliveTimeoutSeconds,
		nextStreamID:            1,
	}
	c.invalidMessageSink = c.defaultInvalidMessage
	return c
}

func (c *Connection) transportWritable() bool {
	return c.transport.Writable()
}

func (c *Connection) defaultInvalidMessage(msg interface{}) {
	c.logger.Printf("httpconn: invalid message on connection to %s: %#v", c.server, msg)
	c.fail(ErrInvalidMessage)
}

// CreateStream allocates a new Stream and admits it into the write pipeline
// (spec.md §4.G). callback fires with the stream once it is safe to call
// WriteHead — immediately if it is the only stream in flight, otherwise once
// every predecessor has finished writing its request.
func (c *Connection) CreateStream(ctx context.Context, callback func(Stream, error)) {
	c.executor.Execute(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			callback(nil, ErrClosed)
			return
		}
		id := c.nextStreamID
		c.nextStreamID++
		promise := &streamPromise{fire: callback}
		s := newStream(c, ctx, id, promise)
		c.pipeline.pushRequest(s)
		solelyOccupant := len(c.pipeline.requests) == 1
		c.mu.Unlock()

		if solelyOccupant {
			promise.complete(s, nil)
		}
	})
}

// IsValid reports whether the connection is still within its keep-alive
// idle window (spec.md §4.E).
func (c *Connection) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expirationTimestamp == 0 {
		return true
	}
	return c.now().Unix() <= c.expirationTimestamp
}

// handleWritable routes a transport writability change to whichever of the
// front request stream or the WebSocket currently owns the socket (spec.md
// §4.G handleInterestedOpsChanged, supplemented feature #2).
func (c *Connection) handleWritable(writable bool) {
	c.mu.Lock()
	current := c.pipeline.requestFront()
	ws := c.webSocket
	c.mu.Unlock()

	switch {
	case current != nil:
		current.handleWritabilityChanged(writable)
	case ws != nil:
		ws.handleWritabilityChanged(writable)
	}
}

// HandleWritabilityChanged implements TransportHandler.
func (c *Connection) HandleWritabilityChanged(writable bool) {
	c.executor.Execute(func() { c.handleWritable(writable) })
}

// HandleIdle implements TransportHandler: idle notifications are swallowed
// while any exchange or WebSocket is active (spec.md §4.G).
func (c *Connection) HandleIdle() {
	c.executor.Execute(func() {
		c.mu.Lock()
		quiet := c.webSocket == nil && c.pipeline.empty()
		c.mu.Unlock()
		if !quiet {
			return
		}
		// Nothing in flight: idle is forwarded to whatever the embedder
		// wants to do about it (e.g. pool eviction of a stale connection).
		// There is no default action at this layer.
	})
}

// HandleClosed implements TransportHandler (spec.md §4.G).
func (c *Connection) HandleClosed() {
	c.executor.Execute(func() {
		c.closeOnce.Do(func() {
			if c.shutdownTimer != nil {
				c.shutdownTimer.Stop()
				c.shutdownTimer = nil
			}

			c.mu.Lock()
			c.closed = true
			ws := c.webSocket
			streams := c.pipeline.pendingStreams()
			waiters := c.shutdownWaiters
			c.shutdownWaiters = nil
			c.mu.Unlock()

			if c.metrics != nil {
				c.metrics.EndpointDisconnected()
			}
			if ws != nil {
				ws.handleException(ErrClosed)
				ws.handleClosed()
			}
			for _, s := range streams {
				if c.metrics != nil {
					c.metrics.RequestReset(s.metric)
				}
				if c.tracer != nil {
					c.tracer.ReceiveResponse(s.ctx, nil, s.trace, ErrClosed, nil)
				}
				s.dispatchException(ErrClosed)
			}
			for _, w := range waiters {
				w(nil)
			}
		})
	})
}

// HandleException implements TransportHandler (spec.md §4.G): the error is
// propagated to every pending stream and the WebSocket; the transport is
// expected to close afterwards, which will trigger HandleClosed.
func (c *Connection) HandleException(err error) {
	c.executor.Execute(func() { c.fail(err) })
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	ws := c.webSocket
	streams := c.pipeline.pendingStreams()
	c.mu.Unlock()

	if ws != nil {
		ws.handleException(err)
	}
	for _, s := range streams {
		s.dispatchException(err)
	}
}

// HandleMessage implements TransportHandler; it is the single entry point
// for ResponseDispatcher (spec.md §4.D), split out into dispatcher.go.
func (c *Connection) HandleMessage(msg InboundMessage) {
	c.executor.Execute(func() { c.dispatch(msg) })
}
