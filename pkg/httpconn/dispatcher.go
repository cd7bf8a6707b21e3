package httpconn

import (
	"strconv"
	"strings"
)

// dispatch is ResponseDispatcher's single entry point (spec.md §4.D). It
// must run on the executor.
func (c *Connection) dispatch(msg InboundMessage) {
	if msg.DecodeErr != nil {
		c.fail(msg.DecodeErr)
		return
	}

	switch msg.Kind {
	case InboundResponseHead:
		if msg.Response.Version != Version10 && msg.Response.Version != Version11 {
			c.fail(ErrUnsupportedVersion)
			return
		}
		c.handleResponseBegin(msg.Response)

	case InboundContent:
		c.mu.Lock()
		target := c.pipeline.responseFront()
		c.mu.Unlock()
		if target == nil {
			// Spurious data with nothing awaiting a reply: ignore.
			return
		}
		if len(msg.Chunk) > 0 {
			c.handleResponseChunk(target, msg.Chunk)
		}
		if msg.Last {
			c.handleResponseEnd(target, msg.Trailers)
		}

	case InboundRawChunk:
		c.mu.Lock()
		target := c.pipeline.responseFront()
		c.mu.Unlock()
		if target == nil || len(msg.Chunk) == 0 {
			return
		}
		c.handleResponseChunk(target, msg.Chunk)

	case InboundOther:
		if c.invalidMessageSink != nil {
			c.invalidMessageSink(msg.Raw)
		}
	}
}

// handleResponseBegin processes a decoded response head (spec.md §4.D).
func (c *Connection) handleResponseBegin(resp *ResponseHead) {
	c.mu.Lock()
	target := c.pipeline.responseFront()
	c.mu.Unlock()
	if target == nil {
		return
	}

	if resp.StatusCode == 100 {
		target.dispatchContinue()
		return
	}

	c.mu.Lock()
	request := target.request
	target.response = resp
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ResponseBegin(target.metric, *resp)
	}

	if request.Method != MethodConnect {
		c.mu.Lock()
		respClose := resp.Headers.HasValue("Connection", "close")
		reqClose := request.Headers.HasValue("Connection", "close")
		switch {
		case respClose || reqClose:
			c.closeAfterCurrent = true
		case resp.Version == Version10 && !resp.Headers.HasValue("Connection", "keep-alive"):
			c.closeAfterCurrent = true
		}
		if ka := resp.Headers.Get("Keep-Alive"); ka != "" {
			if timeout, ok := parseKeepAliveTimeout(ka); ok {
				c.keepAliveTimeoutSeconds = timeout
			}
		}
		c.mu.Unlock()
	}

	target.dispatchHead(*resp)

	c.mu.Lock()
	tunnel := c.isTunnel
	c.mu.Unlock()
	if tunnel && isUpgradeMatch(request, resp.StatusCode) {
		c.performUpgradeTakeover(target)
	}
}

// isUpgradeMatch implements spec.md's tunnel upgrade patterns: CONNECT+200,
// or GET with Connection: Upgrade and a 101 response.
func isUpgradeMatch(request RequestHead, status int) bool {
	if request.Method == MethodConnect && status == 200 {
		return true
	}
	if request.Method == MethodGet && request.Headers.HasValue("Connection", "Upgrade") && status == 101 {
		return true
	}
	return false
}

// parseKeepAliveTimeout extracts the "timeout=N" directive from a
// Keep-Alive response header such as "timeout=5, max=1000".
func parseKeepAliveTimeout(header string) (int, bool) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "timeout=") {
			continue
		}
		val := strings.TrimSpace(part[len("timeout="):])
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// handleResponseChunk delivers a non-empty content chunk to target's
// inbound buffer, pausing transport reads on overflow (spec.md §4.D).
func (c *Connection) handleResponseChunk(target *stream, chunk []byte) {
	target.bytesRead += int64(len(chunk))
	if !target.inbound.write(inboundItem{chunk: chunk}) {
		c.transport.PauseReads()
	}
}

// handleResponseEnd finishes an exchange's response side (spec.md §4.D
// "Last content").
func (c *Connection) handleResponseEnd(target *stream, trailers Headers) {
	c.mu.Lock()
	if target.response == nil {
		c.mu.Unlock()
		return
	}
	c.pipeline.popResponseFront()
	target.responseEnded = true
	if !c.config.KeepAlive {
		c.closeAfterCurrent = true
	}
	checkNeeded := c.pipeline.requestFront() != target
	c.mu.Unlock()

	target.inbound.write(inboundItem{isEnd: true, trailers: trailers})

	if c.tracer != nil {
		c.tracer.ReceiveResponse(target.ctx, target.response, target.trace, nil, nil)
	}
	if c.metrics != nil {
		c.metrics.ResponseEnd(target.metric, target.bytesRead)
	}

	c.transport.ResumeReads()

	if checkNeeded {
		c.check()
	}
}

// drainResponse resumes transport reads once a stream's consumer has
// caught up, unless its response already fully ended (spec.md §4.A).
func (c *Connection) drainResponse(s *stream) {
	if !s.responseEnded {
		c.transport.ResumeReads()
	}
}
