package transport

import (
	"fmt"
	"io"
	"log"

	"github.com/panjf2000/gnet/v2"
)

// ClientEngine is the gnet.EventHandler shared by every connection this
// process dials. Dial creates a fresh Transport per connection and installs
// it as the gnet.Conn's context, mirroring the teacher's server-side
// OnOpen/SetContext pattern turned around for outbound connections.
type ClientEngine struct {
	gnet.BuiltinEventEngine

	client *gnet.Client
	logger *log.Logger
}

// NewClientEngine starts a gnet client engine. logger defaults to a silent
// logger if nil. opts are forwarded to gnet.NewClient (buffer sizes,
// multicore, TCP keep-alive, and so on).
func NewClientEngine(logger *log.Logger, opts ...gnet.Option) (*ClientEngine, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &ClientEngine{logger: logger}

	cli, err := gnet.NewClient(e, append(opts, gnet.WithLogger(silentGnetLogger{}))...)
	if err != nil {
		return nil, fmt.Errorf("h1conn: new client engine: %w", err)
	}
	if err := cli.Start(); err != nil {
		return nil, fmt.Errorf("h1conn: start client engine: %w", err)
	}
	e.client = cli
	return e, nil
}

// Dial opens a new connection and returns its Transport. The Transport has
// no TransportHandler yet; the caller constructs an httpconn.Connection
// using Transport.Executor() and then calls Transport.SetHandler(conn)
// before any traffic can be dispatched.
func (e *ClientEngine) Dial(network, address string) (*Transport, error) {
	t := newTransport(nil, e.logger)
	conn, err := e.client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("h1conn: dial %s %s: %w", network, address, err)
	}
	t.conn = conn
	conn.SetContext(t)
	return t, nil
}

// Stop shuts the client engine down, closing every connection it dialed.
func (e *ClientEngine) Stop() error {
	return e.client.Stop()
}

// OnTraffic implements gnet.EventHandler, routing to the Transport stored
// in the connection's context. It already runs on the connection's own
// event-loop goroutine, so it dispatches through runInLoop rather than
// Execute — this is one of the two places (with OnClose) that make
// Executor.InLoop accurate for reentrant calls made from inside a handler.
func (e *ClientEngine) OnTraffic(c gnet.Conn) gnet.Action {
	t, ok := c.Context().(*Transport)
	if !ok || t == nil {
		e.logger.Printf("h1conn: traffic on connection with no transport context")
		return gnet.Close
	}
	t.runInLoop(t.onTraffic)
	return gnet.None
}

// OnClose implements gnet.EventHandler.
func (e *ClientEngine) OnClose(c gnet.Conn, err error) gnet.Action {
	if t, ok := c.Context().(*Transport); ok && t != nil {
		t.runInLoop(func() { t.onClose(err) })
	}
	return gnet.None
}

// silentGnetLogger discards gnet's own internal logging, matching the
// teacher's h1.Server.Start.
type silentGnetLogger struct{}

func (silentGnetLogger) Debugf(string, ...any) {}
func (silentGnetLogger) Infof(string, ...any)  {}
func (silentGnetLogger) Warnf(string, ...any)  {}
func (silentGnetLogger) Errorf(string, ...any) {}
func (silentGnetLogger) Fatalf(string, ...any) {}
