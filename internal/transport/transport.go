// Package transport is the gnet-based client transport: it dials, owns the
// gnet.Conn, feeds bytes through internal/wire's decoder/encoder, and calls
// back into pkg/httpconn.Connection through the TransportHandler contract.
// It is the concrete Transport the connection core (internal/wire and
// pkg/httpconn) was built to depend on only abstractly.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/panjf2000/gnet/v2"

	"github.com/albertbausili/h1conn/internal/wire"
	"github.com/albertbausili/h1conn/pkg/httpconn"
)

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyFixed
	bodyChunked
	bodyUntilClose
)

// Transport is a gnet-backed httpconn.Transport: one value per TCP/TLS
// connection, owning the accumulation buffer and driving internal/wire's
// decoder across however many pipelined responses arrive on it, and its
// encoder for whatever requests the core writes through it.
type Transport struct {
	conn     gnet.Conn
	logger   *log.Logger
	executor *gnetExecutor

	mu      sync.Mutex
	handler httpconn.TransportHandler

	dec    *wire.Decoder
	buffer bytes.Buffer

	mode      bodyMode
	remaining int64

	outChunked bool

	pending  [][]byte
	queued   [][]byte
	inflight bool
	writable bool

	codecRemoved bool
	paused       bool
}

func newTransport(conn gnet.Conn, logger *log.Logger) *Transport {
	return &Transport{
		conn:     conn,
		logger:   logger,
		dec:      wire.NewDecoder(),
		writable: true,
	}
}

// SetHandler installs the TransportHandler this transport drives (normally
// an *httpconn.Connection). It must be set before traffic starts arriving;
// ClientEngine.Dial returns a Transport with no handler so the caller can
// construct the Connection first, passing the Transport's own Executor, and
// then wire the two together.
func (t *Transport) SetHandler(h httpconn.TransportHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Executor returns the event-loop-backed Executor for this connection,
// creating it on first use. Every caller shares the same instance so that
// runInLoop's on-loop marking (driven by the gnet event callbacks) is
// visible to the Executor a Connection actually calls Execute/InLoop on.
func (t *Transport) Executor() httpconn.Executor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.executor == nil {
		t.executor = newGnetExecutor(t.conn)
	}
	return t.executor
}

// runInLoop marks the shared executor as on-loop for the duration of fn.
// ClientEngine's OnTraffic/OnClose callbacks already run on the
// connection's own event-loop goroutine without going through Wake, so they
// call through here rather than Execute to keep InLoop accurate.
func (t *Transport) runInLoop(fn func()) {
	ex := t.Executor().(*gnetExecutor)
	ex.runInLoop(fn)
}

func (t *Transport) handlerOrNil() httpconn.TransportHandler {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	return h
}

func (t *Transport) deliver(msg httpconn.InboundMessage) {
	if h := t.handlerOrNil(); h != nil {
		h.HandleMessage(msg)
	}
}

func (t *Transport) notifyWritability(writable bool) {
	if h := t.handlerOrNil(); h != nil {
		h.HandleWritabilityChanged(writable)
	}
}

// --- httpconn.Transport ---

func (t *Transport) WriteRequestHead(head httpconn.RequestHead, chunked bool, body []byte, end bool) error {
	t.mu.Lock()
	t.outChunked = chunked
	t.mu.Unlock()

	wireHead := wire.RequestHead{
		Method:  string(head.Method),
		URI:     head.URI,
		Version: "HTTP/1.1",
		Headers: head.Headers.Fields(),
	}

	var inline []byte
	switch {
	case chunked && len(body) > 0:
		inline = wire.EncodeChunk(body, end)
	case chunked && end:
		inline = wire.EncodeChunk(nil, true)
	default:
		inline = body
	}

	buf, release := wire.EncodeRequestHead(wireHead, inline)
	out := make([]byte, len(buf))
	copy(out, buf)
	release()

	return t.asyncWrite(out)
}

func (t *Transport) WriteContent(body []byte, end bool) error {
	t.mu.Lock()
	chunked := t.outChunked
	t.mu.Unlock()

	if chunked {
		return t.asyncWrite(wire.EncodeChunk(body, end))
	}
	if len(body) == 0 {
		return nil
	}
	return t.asyncWrite(body)
}

func (t *Transport) WriteRaw(body []byte) error {
	return t.asyncWrite(wire.EncodeRawChunk(body))
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (t *Transport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable
}

func (t *Transport) PauseReads() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

func (t *Transport) ResumeReads() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	_ = t.conn.Wake(func(gnet.Conn, error) error {
		t.drain()
		return nil
	})
}

func (t *Transport) RemoveHTTPCodec() ([]httpconn.InboundMessage, error) {
	t.mu.Lock()
	t.codecRemoved = true
	t.mode = bodyNone
	var pending []httpconn.InboundMessage
	if t.buffer.Len() > 0 {
		raw := make([]byte, t.buffer.Len())
		copy(raw, t.buffer.Bytes())
		t.buffer.Reset()
		pending = append(pending, httpconn.InboundMessage{Kind: httpconn.InboundRawChunk, Chunk: raw})
	}
	t.mu.Unlock()
	return pending, nil
}

// TakeRawConn hands back the underlying gnet.Conn, which satisfies
// net.Conn, as a raw byte stream for CONNECT tunnels and WebSocket
// handshakes (spec's supplemented "to_net_socket" feature).
func (t *Transport) TakeRawConn() (io.ReadWriteCloser, error) {
	t.mu.Lock()
	t.codecRemoved = true
	t.mu.Unlock()
	return t.conn, nil
}

// --- write path: pending/queued/inflight batching, adapted from the
// teacher's ResponseWriter.flush, now driving writability notifications
// instead of just chaining further response writes. ---

func (t *Transport) asyncWrite(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	data := make([]byte, len(buf))
	copy(data, buf)

	t.mu.Lock()
	if t.inflight {
		t.queued = append(t.queued, data)
		wasWritable := t.writable
		t.writable = false
		t.mu.Unlock()
		if wasWritable {
			t.notifyWritability(false)
		}
		return nil
	}
	t.inflight = true
	t.mu.Unlock()

	return t.flushBatch([][]byte{data})
}

func (t *Transport) flushBatch(batch [][]byte) error {
	return t.conn.AsyncWritev(batch, func(_ gnet.Conn, err error) error {
		if err != nil && t.logger != nil {
			t.logger.Printf("h1conn: async write error: %v", err)
		}
		t.mu.Lock()
		next := t.queued
		t.queued = nil
		if len(next) == 0 {
			t.inflight = false
			becameWritable := !t.writable
			t.writable = true
			t.mu.Unlock()
			if becameWritable {
				t.notifyWritability(true)
			}
			return nil
		}
		t.mu.Unlock()
		return t.flushBatch(next)
	})
}

// --- read path: OnTraffic/OnClose entry points called by ClientEngine ---

func (t *Transport) onTraffic() {
	t.mu.Lock()
	if t.paused {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	data, err := t.conn.Next(-1)
	if err != nil {
		t.deliver(httpconn.InboundMessage{DecodeErr: fmt.Errorf("h1conn: read: %w", err)})
		return
	}
	if len(data) == 0 {
		return
	}

	t.mu.Lock()
	if t.codecRemoved {
		t.mu.Unlock()
		raw := make([]byte, len(data))
		copy(raw, data)
		t.deliver(httpconn.InboundMessage{Kind: httpconn.InboundRawChunk, Chunk: raw})
		return
	}
	t.buffer.Write(data)
	t.mu.Unlock()

	t.drain()
}

func (t *Transport) onClose(err error) {
	t.mu.Lock()
	untilClose := t.mode == bodyUntilClose
	t.mode = bodyNone
	t.mu.Unlock()

	if untilClose {
		t.deliver(httpconn.InboundMessage{Kind: httpconn.InboundContent, Last: true})
	}

	h := t.handlerOrNil()
	if h == nil {
		return
	}
	if err != nil {
		h.HandleException(fmt.Errorf("h1conn: connection closed: %w", err))
	}
	h.HandleClosed()
}

// drain runs the decode loop until the buffer is exhausted, paused, or a
// partial frame needs more bytes.
func (t *Transport) drain() {
	for {
		t.mu.Lock()
		if t.paused || t.codecRemoved {
			t.mu.Unlock()
			return
		}
		empty := t.buffer.Len() == 0
		mode := t.mode
		t.mu.Unlock()
		if empty {
			return
		}

		var progressed bool
		switch mode {
		case bodyNone:
			progressed = t.drainHead()
		case bodyFixed:
			progressed = t.drainFixedBody()
		case bodyChunked:
			progressed = t.drainChunkedBody()
		case bodyUntilClose:
			t.drainUntilCloseBody()
			return
		}
		if !progressed {
			return
		}
	}
}

func (t *Transport) drainHead() bool {
	t.mu.Lock()
	t.dec.Reset(t.buffer.Bytes())
	var head wire.ResponseHead
	head.Reset()
	consumed, err := t.dec.ParseResponseHead(&head)
	if err != nil {
		t.mu.Unlock()
		t.deliver(httpconn.InboundMessage{DecodeErr: fmt.Errorf("h1conn: decode response head: %w", err)})
		return false
	}
	if consumed == 0 {
		t.mu.Unlock()
		return false
	}
	t.buffer.Next(consumed)

	headers := make([][2]string, len(head.Headers))
	copy(headers, head.Headers)
	respHead := &httpconn.ResponseHead{
		Version:    versionFromString(head.Version),
		StatusCode: head.StatusCode,
		StatusText: head.StatusText,
		Headers:    httpconn.HeadersFromSlice(headers),
	}

	informational := head.StatusCode >= 100 && head.StatusCode < 200
	noBody := head.StatusCode == 204 || head.StatusCode == 304

	switch {
	case informational || noBody:
		t.mode = bodyNone
	case head.ChunkedEncoding:
		t.mode = bodyChunked
	case head.HasContentLen && head.ContentLength > 0:
		t.mode = bodyFixed
		t.remaining = head.ContentLength
	case head.HasContentLen:
		t.mode = bodyNone
	default:
		t.mode = bodyUntilClose
	}
	t.mu.Unlock()

	t.deliver(httpconn.InboundMessage{Kind: httpconn.InboundResponseHead, Response: respHead})
	if noBody {
		t.deliver(httpconn.InboundMessage{Kind: httpconn.InboundContent, Last: true})
	}
	return true
}

func (t *Transport) drainFixedBody() bool {
	t.mu.Lock()
	avail := t.buffer.Len()
	if avail == 0 {
		t.mu.Unlock()
		return false
	}
	n := int64(avail)
	if n > t.remaining {
		n = t.remaining
	}
	chunk := make([]byte, int(n))
	_, _ = t.buffer.Read(chunk)
	t.remaining -= n
	last := t.remaining == 0
	if last {
		t.mode = bodyNone
	}
	t.mu.Unlock()

	t.deliver(httpconn.InboundMessage{Kind: httpconn.InboundContent, Chunk: chunk, Last: last})
	return true
}

func (t *Transport) drainChunkedBody() bool {
	t.mu.Lock()
	t.dec.Reset(t.buffer.Bytes())
	chunk, consumed, err := t.dec.ParseChunkedBody()
	if err != nil {
		t.mu.Unlock()
		t.deliver(httpconn.InboundMessage{DecodeErr: fmt.Errorf("h1conn: decode chunk: %w", err)})
		return false
	}
	if consumed == 0 {
		t.mu.Unlock()
		return false
	}
	if chunk != nil {
		t.buffer.Next(consumed)
		t.mu.Unlock()
		t.deliver(httpconn.InboundMessage{Kind: httpconn.InboundContent, Chunk: chunk})
		return true
	}

	// Terminal zero-size chunk: the decoder has only consumed "0\r\n" so
	// far, leaving the (almost always empty) trailer block for ParseTrailers.
	var trailerFields [][2]string
	trailerConsumed, err := t.dec.ParseTrailers(&trailerFields)
	if err != nil {
		t.mu.Unlock()
		t.deliver(httpconn.InboundMessage{DecodeErr: fmt.Errorf("h1conn: decode trailers: %w", err)})
		return false
	}
	if trailerConsumed == 0 {
		t.mu.Unlock()
		return false
	}
	t.buffer.Next(consumed + trailerConsumed)
	t.mode = bodyNone
	t.mu.Unlock()

	t.deliver(httpconn.InboundMessage{
		Kind:     httpconn.InboundContent,
		Last:     true,
		Trailers: httpconn.HeadersFromSlice(trailerFields),
	})
	return true
}

func (t *Transport) drainUntilCloseBody() {
	t.mu.Lock()
	if t.buffer.Len() == 0 {
		t.mu.Unlock()
		return
	}
	chunk := make([]byte, t.buffer.Len())
	_, _ = t.buffer.Read(chunk)
	t.mu.Unlock()
	t.deliver(httpconn.InboundMessage{Kind: httpconn.InboundContent, Chunk: chunk})
}

func versionFromString(v string) httpconn.Version {
	switch v {
	case "HTTP/1.0":
		return httpconn.Version10
	case "HTTP/1.1":
		return httpconn.Version11
	default:
		return httpconn.VersionUnknown
	}
}
