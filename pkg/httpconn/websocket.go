package httpconn

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket wraps a client connection after a successful upgrade handshake
// (spec.md §4.F). It shares the owning Connection's writability routing
// (spec.md §4.G handleInterestedOpsChanged) and closed/exception
// propagation (spec.md §4.G handle_closed/handle_exception).
type WebSocket struct {
	conn        *Connection
	underlying  *websocket.Conn
	subProtocol string

	mu       sync.Mutex
	writable bool
	metric   interface{}

	drainHandler     func()
	closeHandler     func()
	exceptionHandler func(error)
}

func newWebSocket(conn *Connection, ws *websocket.Conn, subProtocol string) *WebSocket {
	return &WebSocket{
		conn:        conn,
		underlying:  ws,
		subProtocol: subProtocol,
		writable:    true,
	}
}

// SubProtocol returns the subprotocol negotiated during the handshake, if any.
func (w *WebSocket) SubProtocol() string { return w.subProtocol }

// Underlying returns the raw gorilla/websocket connection for frame I/O;
// the frame processor itself is out of scope for this connection core
// (spec.md §1 "Out of scope": "the WebSocket frame processor past handshake").
func (w *WebSocket) Underlying() *websocket.Conn { return w.underlying }

// DrainHandler installs the callback fired on the writability false->true edge.
func (w *WebSocket) DrainHandler(h func()) {
	w.conn.executor.Execute(func() { w.drainHandler = h })
}

// CloseHandler installs the callback fired once the owning connection closes.
func (w *WebSocket) CloseHandler(h func()) {
	w.conn.executor.Execute(func() { w.closeHandler = h })
}

// ExceptionHandler installs the callback fired on a connection-level error.
func (w *WebSocket) ExceptionHandler(h func(error)) {
	w.conn.executor.Execute(func() { w.exceptionHandler = h })
}

func (w *WebSocket) handleWritabilityChanged(writable bool) {
	w.mu.Lock()
	rising := !w.writable && writable
	w.writable = writable
	handler := w.drainHandler
	w.mu.Unlock()
	if rising && handler != nil {
		handler()
	}
}

func (w *WebSocket) handleClosed() {
	if h := w.closeHandler; h != nil {
		h()
	}
}

func (w *WebSocket) handleException(err error) {
	if h := w.exceptionHandler; h != nil {
		h(err)
	}
}
