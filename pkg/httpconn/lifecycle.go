package httpconn

import "time"

// check is LifecycleController's post-exchange decision point (spec.md
// §4.E): close if the connection is already marked for close, otherwise
// try to recycle it back to the pool.
func (c *Connection) check() {
	c.mu.Lock()
	closeNow := c.closeAfterCurrent
	c.mu.Unlock()
	if closeNow {
		_ = c.close()
		return
	}
	c.recycle()
}

// recycle implements spec.md §4.E's recycle rules: close if shutting down
// with empty queues, no-op for a tunnel (the pool already evicted it), or
// else compute the new idle expiration and notify the pool.
func (c *Connection) recycle() {
	c.mu.Lock()
	if c.shutdown {
		empty := c.pipeline.empty()
		c.mu.Unlock()
		if empty {
			_ = c.close()
		}
		return
	}
	if c.isTunnel {
		c.mu.Unlock()
		return
	}

	var expiry int64
	if c.keepAliveTimeoutSeconds != 0 {
		expiry = c.now().Unix() + int64(c.keepAliveTimeoutSeconds)
	}
	c.expirationTimestamp = expiry
	c.mu.Unlock()

	if c.listener != nil {
		c.listener.OnRecycle()
	}
}

// close asks the transport to close; HandleClosed drives the rest of
// teardown once the transport confirms. close keeps no record of earlier
// calls, so every call reaches Transport.Close.
func (c *Connection) close() error {
	return c.transport.Close()
}

// Shutdown implements spec.md §4.E: fails a second concurrent shutdown with
// ErrAlreadyShutdown without touching state; otherwise evicts the
// connection from the pool immediately and either closes it right away
// (timeoutMs == 0, once whatever is in flight drains) or after a grace
// period (timeoutMs > 0), whichever comes first. done, if non-nil, fires
// exactly once when the connection actually closes.
func (c *Connection) Shutdown(timeoutMs int64, done func(error)) {
	c.executor.Execute(func() {
		c.mu.Lock()
		if c.shutdown {
			c.mu.Unlock()
			if done != nil {
				done(ErrAlreadyShutdown)
			}
			return
		}
		c.shutdown = true
		alreadyClosed := c.closed
		if done != nil && !alreadyClosed {
			c.shutdownWaiters = append(c.shutdownWaiters, done)
		}
		c.mu.Unlock()
		if done != nil && alreadyClosed {
			done(nil)
		}

		if c.listener != nil {
			c.listener.OnEvict()
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			if timeoutMs > 0 {
				c.mu.Lock()
				c.shutdownTimer = c.executor.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
					c.executor.Execute(c.shutdownNow)
				})
				c.mu.Unlock()
			} else {
				c.mu.Lock()
				c.closeAfterCurrent = true
				c.mu.Unlock()
			}
		}
		c.check()
	})
}

func (c *Connection) shutdownNow() {
	c.mu.Lock()
	c.shutdownTimer = nil
	c.mu.Unlock()
	_ = c.close()
}
