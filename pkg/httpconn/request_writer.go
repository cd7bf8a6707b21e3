package httpconn

import (
	"fmt"
)

// buildRequestHead applies the framing rules of spec.md §4.C, in order, to
// a copy of req.Headers. The caller-supplied RequestHead is never mutated.
func (c *Connection) buildRequestHead(req RequestHead, chunked bool) RequestHead {
	headers := req.Headers.Clone()

	// Rule 2: Host / Transfer-Encoding.
	if !headers.Has("Host") {
		headers.Set("Host", req.Authority)
	} else {
		headers.Del("Transfer-Encoding")
	}

	// Rule 3: chunked transfer.
	if chunked {
		headers.Set("Transfer-Encoding", "chunked")
		headers.Del("Content-Length")
	}

	// Rule 4: compression accept.
	if c.config.TryUseCompression && !headers.Has("Accept-Encoding") {
		headers.Set("Accept-Encoding", "deflate, gzip")
	}

	// Rule 5: keep-alive / close directive.
	if !c.config.KeepAlive && c.version == Version11 {
		headers.Set("Connection", "close")
	} else if c.config.KeepAlive && c.version == Version10 {
		headers.Set("Connection", "keep-alive")
	}

	req.Headers = headers
	req.RemoteAddr = c.transport.RemoteAddr()
	return req
}

// beginRequest is the request-writer entry point invoked by Stream.WriteHead
// (spec.md §4.C). It must run on the executor.
func (c *Connection) beginRequest(s *stream, req RequestHead, chunked bool, initialBody []byte, end bool, connect bool) error {
	finalHead := c.buildRequestHead(req, chunked)
	s.bytesWritten += int64(len(initialBody))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pipeline.pushResponse(s)
	c.isTunnel = connect
	if c.metrics != nil {
		s.metric = c.metrics.RequestBegin(finalHead.URI, finalHead)
	}
	c.mu.Unlock()

	if c.tracer != nil {
		headerSink := func(key, val string) { finalHead.Headers.Add(key, val) }
		s.trace = c.tracer.SendRequest(s.ctx, finalHead, string(finalHead.Method), headerSink, nil)
	}

	if err := c.transport.WriteRequestHead(finalHead, chunked, initialBody, end); err != nil {
		return fmt.Errorf("httpconn: write request head: %w", err)
	}
	if end {
		c.endRequest(s)
	}
	return nil
}

// writeBody is the WriteBody entry point (spec.md §4.C tunnel/non-tunnel
// split). It must run on the executor.
func (c *Connection) writeBody(s *stream, chunk []byte, end bool) error {
	s.bytesWritten += int64(len(chunk))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	tunnel := c.isTunnel
	c.mu.Unlock()

	if tunnel {
		if len(chunk) > 0 {
			if err := c.transport.WriteRaw(chunk); err != nil {
				return fmt.Errorf("httpconn: write raw: %w", err)
			}
		}
		if end {
			return c.close()
		}
		return nil
	}

	if err := c.transport.WriteContent(chunk, end); err != nil {
		return fmt.Errorf("httpconn: write content: %w", err)
	}
	if end {
		c.endRequest(s)
	}
	return nil
}

// endRequest pops the finished writer off requests, admits its successor,
// and recycles the connection if the response already ended first — the
// "server early response" case of spec.md §4.C / §9.
func (c *Connection) endRequest(s *stream) {
	c.mu.Lock()
	front := c.pipeline.popRequestFront()
	if front != s {
		// Invariant 2 violation would land here; nothing sane to do but
		// restore state and bail rather than corrupt the queue.
		if front != nil {
			c.pipeline.requests = append([]*stream{front}, c.pipeline.requests...)
		}
		c.mu.Unlock()
		return
	}
	next := c.pipeline.requestFront()
	recycle := s.responseEnded
	if c.metrics != nil {
		c.metrics.RequestEnd(s.metric, s.bytesWritten)
	}
	c.mu.Unlock()

	if next != nil {
		next.promise.complete(next, nil)
	}
	if recycle {
		c.check()
	}
}

// resetRequest implements spec.md §4.D's reset path: a stream whose head
// already reached the wire (present in responses) forces connection close;
// one still only in requests can simply be dropped, and the connection may
// continue.
func (c *Connection) resetRequest(s *stream) {
	c.mu.Lock()
	var alreadySent bool
	if c.pipeline.removeResponse(s) {
		alreadySent = true
	} else if c.pipeline.removeRequest(s) {
		alreadySent = false
	} else {
		c.mu.Unlock()
		return
	}
	if c.metrics != nil {
		c.metrics.RequestReset(s.metric)
	}
	c.mu.Unlock()

	if alreadySent {
		_ = c.close()
	} else {
		c.check()
	}
}
