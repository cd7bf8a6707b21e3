package httpconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// performUpgradeTakeover implements spec.md §4.F: once a CONNECT/Upgrade
// response matches the tunnel pattern, strip the HTTP codec from the
// transport and redeliver whatever bytes it flushed during removal as raw
// chunks to the stream that owns the tunnel.
func (c *Connection) performUpgradeTakeover(target *stream) {
	pending, err := c.transport.RemoveHTTPCodec()
	if err != nil {
		c.fail(fmt.Errorf("httpconn: remove http codec: %w", err))
		return
	}
	for _, m := range pending {
		switch m.Kind {
		case InboundContent, InboundRawChunk:
			if len(m.Chunk) > 0 {
				c.handleResponseChunk(target, m.Chunk)
			}
			if m.Kind == InboundContent && m.Last {
				c.handleResponseEnd(target, m.Trailers)
			}
		default:
			// Non-content objects surfaced mid-removal carry no tunnel
			// meaning once the codec is gone; drop them.
		}
	}
}

// ToRawConn fully removes HTTP handling and hands back a raw byte stream
// over the same socket, evicting the connection from the pool (spec.md's
// supplemented "to_net_socket" feature).
func (c *Connection) ToRawConn() (io.ReadWriteCloser, error) {
	type result struct {
		conn io.ReadWriteCloser
		err  error
	}
	resCh := make(chan result, 1)
	c.executor.Execute(func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			resCh <- result{nil, ErrClosed}
			return
		}
		conn, err := c.transport.TakeRawConn()
		if err == nil && c.listener != nil {
			c.listener.OnEvict()
		}
		resCh <- result{conn, err}
	})
	r := <-resCh
	return r.conn, r.err
}

// ToWebSocket drives the WebSocket handshake of spec.md §4.F: it builds an
// absolute handshake URI if needed, takes raw ownership of the socket (the
// same takeover used by ToRawConn/CONNECT), and negotiates the handshake
// with gorilla/websocket's NewClient over the raw connection. On success a
// WebSocket is installed as the connection's tunnel; if the handshake
// itself fails the connection is closed. Errors before the handshake (an
// invalid URI, a failed or non-net.Conn raw takeover) are passed to done
// without closing the connection.
func (c *Connection) ToWebSocket(requestURI string, headers Headers, subProtocols []string, done func(*WebSocket, error)) {
	c.executor.Execute(func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			done(nil, ErrClosed)
			return
		}

		wsURI, err := c.buildWebSocketURI(requestURI)
		if err != nil {
			done(nil, err)
			return
		}

		rawConn, err := c.transport.TakeRawConn()
		if err != nil {
			done(nil, err)
			return
		}
		netConn, ok := rawConn.(net.Conn)
		if !ok {
			done(nil, errors.New("httpconn: transport does not support a raw net.Conn takeover"))
			return
		}

		reqHeader := http.Header{}
		for _, f := range headers.Fields() {
			reqHeader.Add(f[0], f[1])
		}
		if len(subProtocols) > 0 {
			reqHeader.Set("Sec-WebSocket-Protocol", strings.Join(subProtocols, ","))
		}
		if exts := c.negotiatedExtensions(); exts != "" {
			reqHeader.Set("Sec-WebSocket-Extensions", exts)
		}

		wsConn, resp, err := websocket.NewClient(netConn, wsURI, reqHeader, 4096, 4096)
		if err != nil {
			_ = c.close()
			done(nil, err)
			return
		}

		subProtocol := ""
		if resp != nil {
			subProtocol = resp.Header.Get("Sec-WebSocket-Protocol")
		}
		ws := newWebSocket(c, wsConn, subProtocol)

		c.mu.Lock()
		c.webSocket = ws
		c.mu.Unlock()

		if c.metrics != nil {
			ws.metric = c.metrics.Connected(ws)
		}
		done(ws, nil)
	})
}

// negotiatedExtensions builds the Sec-WebSocket-Extensions offer from the
// configured compression preferences (spec.md's "permessage-deflate,
// deflate-frame" extension handshakers, expressed as header negotiation
// rather than netty-style pluggable frame codecs).
func (c *Connection) negotiatedExtensions() string {
	var offers []string
	if c.config.TryPerMessageWebSocketCompression {
		offers = append(offers, "permessage-deflate; client_max_window_bits")
	}
	if c.config.TryWebSocketDeflateFrameCompression {
		offers = append(offers, "deflate-frame")
	}
	return strings.Join(offers, ", ")
}

func (c *Connection) buildWebSocketURI(requestURI string) (*url.URL, error) {
	u, err := url.Parse(requestURI)
	if err != nil {
		return nil, fmt.Errorf("httpconn: invalid websocket request uri: %w", err)
	}
	if u.IsAbs() {
		return u, nil
	}
	scheme := "ws"
	if c.ssl {
		scheme = "wss"
	}
	return url.Parse(scheme + "://" + c.server + requestURI)
}
