package httpconn

import (
	"context"
	"io"
	"time"
)

// Executor represents the single-threaded I/O loop a Connection is bound
// to (spec.md §5 "Scheduling model"). Every public Connection/Stream method
// runs its mutation through Executor so that callers on other goroutines are
// trampolined onto the loop instead of racing it.
type Executor interface {
	// InLoop reports whether the calling goroutine is already the loop.
	InLoop() bool
	// Execute runs fn on the loop, immediately if already on it, otherwise
	// by scheduling it. Execute never blocks the caller.
	Execute(fn func())
	// AfterFunc schedules fn to run on the loop after d, returning a Timer
	// that can cancel it. Used by shutdown's grace-period deadline.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable one-shot timer, matching the shape of
// time.AfterFunc's return value.
type Timer interface {
	Stop() bool
}

// PoolListener is the contract towards the connection pool that issues
// connections (spec.md §6). The pool consumes this to know when a
// connection is reusable and when to stop offering it for checkout.
type PoolListener interface {
	// OnRecycle marks the connection as idle and available for reuse.
	OnRecycle()
	// OnEvict marks the connection as unavailable for further checkouts,
	// without necessarily closing it yet.
	OnEvict()
}

// TagExtractor produces tracer tags from a value of unspecified shape; it is
// forwarded opaquely to the Tracer implementation exactly as the wrapped
// codec/library expects it.
type TagExtractor func(v interface{}) map[string]string

// Metrics is the client metrics contract of spec.md §6. All methods receive
// or return an opaque handle so the core never inspects metrics internals.
type Metrics interface {
	// RequestBegin is called when a request head is emitted; the returned
	// handle is threaded through ResponseBegin/ResponseEnd/RequestEnd/RequestReset.
	RequestBegin(uri string, req RequestHead) interface{}
	ResponseBegin(handle interface{}, resp ResponseHead)
	ResponseEnd(handle interface{}, bytesRead int64)
	RequestEnd(handle interface{}, bytesWritten int64)
	RequestReset(handle interface{})
	// EndpointDisconnected is called once when the transport closes.
	EndpointDisconnected()
	// Connected is called on a successful WebSocket upgrade.
	Connected(ws *WebSocket) interface{}
}

// Tracer is the client tracing contract of spec.md §6.
type Tracer interface {
	// SendRequest starts a span for an outgoing request. headerSink lets the
	// tracer inject propagation headers into the outgoing request.
	SendRequest(ctx context.Context, req RequestHead, opName string, headerSink func(key, val string), tags TagExtractor) interface{}
	// ReceiveResponse ends the span started by SendRequest. resp is nil and
	// err non-nil when the exchange failed instead of completing normally.
	ReceiveResponse(ctx context.Context, resp *ResponseHead, handle interface{}, err error, tags TagExtractor)
}

// InboundKind discriminates the variants of InboundMessage.
type InboundKind int

const (
	// InboundResponseHead carries a decoded response status line + headers.
	InboundResponseHead InboundKind = iota
	// InboundContent carries a body chunk, possibly the terminal one (Last).
	InboundContent
	// InboundRawChunk carries raw bytes outside HTTP framing: post-upgrade
	// tunnel traffic, delivered once UpgradePath has removed the codec.
	InboundRawChunk
	// InboundOther carries any wire object the codec understands but this
	// connection does not (e.g. a WebSocket frame before the WS takeover) —
	// routed through the invalid-message sink unless a tunnel/WS context
	// claims it first.
	InboundOther
)

// InboundMessage is a decoded unit handed from the Transport to the
// Connection's ResponseDispatcher. Exactly one payload field is meaningful
// per Kind. DecodeErr, when non-nil, always fails the connection regardless
// of Kind (spec.md §4.D validate()).
type InboundMessage struct {
	Kind      InboundKind
	DecodeErr error

	Response *ResponseHead // InboundResponseHead

	Chunk    []byte  // InboundContent, InboundRawChunk
	Last     bool    // InboundContent: true for the terminating message
	Trailers Headers // InboundContent, only meaningful when Last

	Raw interface{} // InboundOther: the original wire object, opaque to the core
}

// Transport is the external collaborator that owns the TCP/TLS byte stream
// and the byte-level HTTP/1.x codec (spec.md §1 "Out of scope"). The core
// depends only on this contract, never on a concrete transport.
type Transport interface {
	// WriteRequestHead serializes and sends the final request head computed
	// by RequestWriter, plus an optional initial body chunk. end marks a
	// headers-only or already-complete request.
	WriteRequestHead(head RequestHead, chunked bool, body []byte, end bool) error
	// WriteContent sends a body chunk framed as HTTP content. end sends the
	// terminating chunk/trailer marker.
	WriteContent(body []byte, end bool) error
	// WriteRaw sends bytes with no HTTP framing at all (tunnel mode).
	WriteRaw(body []byte) error
	// Close tears down the underlying connection.
	Close() error
	// RemoteAddr identifies the peer, used for metrics/trace tags.
	RemoteAddr() string
	// Writable reports the current transport-level backpressure state.
	Writable() bool
	// PauseReads and ResumeReads implement the read-side backpressure signal
	// of spec.md §4.A/§4.D: pause when a stream's inbound buffer overflows,
	// resume once its consumer has caught up.
	PauseReads()
	ResumeReads()
	// RemoveHTTPCodec strips the HTTP decoder (and decompressor, if any)
	// from the read pipeline for a tunnel/WebSocket takeover. Any messages
	// the codec flushes back out during removal are returned so the caller
	// can redeliver them as raw chunks (spec.md §4.F).
	RemoveHTTPCodec() ([]InboundMessage, error)
	// TakeRawConn fully removes HTTP handling and returns a raw byte
	// stream adaptor over the same socket (spec.md supplemented feature
	// "to_net_socket").
	TakeRawConn() (io.ReadWriteCloser, error)
}

// TransportHandler is the callback surface a Transport drives. Connection
// implements it; a Transport implementation must never call these while
// holding any lock of its own, matching spec.md §5's "never occur while
// holding the mutex" rule for the core side.
type TransportHandler interface {
	HandleMessage(msg InboundMessage)
	HandleWritabilityChanged(writable bool)
	HandleClosed()
	HandleException(err error)
	HandleIdle()
}
