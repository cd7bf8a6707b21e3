package transport

import (
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"

	"github.com/albertbausili/h1conn/pkg/httpconn"
)

// gnetExecutor implements httpconn.Executor by scheduling work onto a
// gnet.Conn's own event-loop goroutine via Wake — the mechanism gnet
// documents for injecting async work into a connection from any other
// goroutine. It is the concrete "I/O executor" a Connection built on this
// transport is bound to.
//
// gnet gives no direct way to ask "is the calling goroutine this
// connection's own loop goroutine", but every path that actually runs on
// the loop — a Wake-scheduled function, or the OnTraffic/OnClose callbacks
// gnet invokes directly — funnels through runInLoop, which is the only
// writer of inLoop. Reads of inLoop can race with that write from an
// arbitrary caller goroutine, hence the atomic.
type gnetExecutor struct {
	conn   gnet.Conn
	inLoop atomic.Bool
}

func newGnetExecutor(conn gnet.Conn) *gnetExecutor {
	return &gnetExecutor{conn: conn}
}

// InLoop reports whether the calling goroutine is currently inside a call
// this executor itself dispatched onto the connection's event loop.
func (e *gnetExecutor) InLoop() bool { return e.inLoop.Load() }

// Execute runs fn immediately if the caller is already on the connection's
// event-loop goroutine (a handler invoked from HandleMessage calling back
// into WriteHead, say), matching the "if the caller runs on the executor,
// they take effect immediately" contract. Otherwise it schedules fn onto
// the loop via Wake. Wake returns an error once the connection is already
// closing and its loop goroutine is gone — in that case fn runs right here
// instead of being silently dropped: several callers (Stream.WriteHead/
// WriteBody, Connection.ToRawConn) block on a channel fn is the only thing
// that ever sends to, so dropping fn would hang them forever instead of
// surfacing the closed-connection error those callers already know how to
// return.
func (e *gnetExecutor) Execute(fn func()) {
	if e.InLoop() {
		fn()
		return
	}
	err := e.conn.Wake(func(gnet.Conn, error) error {
		e.runInLoop(fn)
		return nil
	})
	if err != nil {
		fn()
	}
}

// runInLoop marks the executor as on-loop for the duration of fn. It is the
// single entry point onto the loop: both Execute's Wake callback and the
// gnet event callbacks that already run on the loop without going through
// Wake (OnTraffic, OnClose) call through here, so InLoop is accurate from
// anywhere those callbacks lead.
func (e *gnetExecutor) runInLoop(fn func()) {
	e.inLoop.Store(true)
	defer e.inLoop.Store(false)
	fn()
}

// AfterFunc schedules fn to run on the loop after d. The standard library
// timer fires on its own goroutine, so the callback is routed through
// Execute rather than calling fn directly.
func (e *gnetExecutor) AfterFunc(d time.Duration, fn func()) httpconn.Timer {
	t := time.AfterFunc(d, func() {
		e.Execute(fn)
	})
	return timerAdapter{t}
}

// timerAdapter adapts *time.Timer to httpconn.Timer.
type timerAdapter struct {
	t *time.Timer
}

func (a timerAdapter) Stop() bool { return a.t.Stop() }
