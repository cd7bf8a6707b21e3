package httpconn

// pipelineQueues holds the two FIFOs of spec.md §4.B: requests currently
// being written, and responses awaiting their reply. Both are protected by
// a single mutex; critical sections here are kept to plain slice/index
// bookkeeping, never a handler call or transport write (spec.md §5).
type pipelineQueues struct {
	requests  []*stream
	responses []*stream
}

func (p *pipelineQueues) pushRequest(s *stream) {
	p.requests = append(p.requests, s)
}

// popRequestFront removes and returns the front of requests, or nil if empty.
func (p *pipelineQueues) popRequestFront() *stream {
	if len(p.requests) == 0 {
		return nil
	}
	s := p.requests[0]
	p.requests = p.requests[1:]
	return s
}

func (p *pipelineQueues) requestFront() *stream {
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[0]
}

// removeRequest removes s from requests wherever it sits, reporting whether
// it was found. Used only by reset() for a stream that has not yet reached
// the front (spec.md §4.D reset path).
func (p *pipelineQueues) removeRequest(s *stream) bool {
	for i, r := range p.requests {
		if r == s {
			p.requests = append(p.requests[:i], p.requests[i+1:]...)
			return true
		}
	}
	return false
}

func (p *pipelineQueues) pushResponse(s *stream) {
	p.responses = append(p.responses, s)
}

func (p *pipelineQueues) responseFront() *stream {
	if len(p.responses) == 0 {
		return nil
	}
	return p.responses[0]
}

func (p *pipelineQueues) popResponseFront() *stream {
	if len(p.responses) == 0 {
		return nil
	}
	s := p.responses[0]
	p.responses = p.responses[1:]
	return s
}

// removeResponse removes s from responses wherever it sits, reporting
// whether it was found.
func (p *pipelineQueues) removeResponse(s *stream) bool {
	for i, r := range p.responses {
		if r == s {
			p.responses = append(p.responses[:i], p.responses[i+1:]...)
			return true
		}
	}
	return false
}

func (p *pipelineQueues) empty() bool {
	return len(p.requests) == 0 && len(p.responses) == 0
}

// pendingStreams returns the set-union of both deques in insertion order,
// deduplicated, per spec.md §4.B — used only on connection failure to
// deliver a closed/exception notification exactly once per stream.
func (p *pipelineQueues) pendingStreams() []*stream {
	seen := make(map[*stream]struct{}, len(p.requests)+len(p.responses))
	out := make([]*stream, 0, len(p.requests)+len(p.responses))
	for _, s := range p.requests {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range p.responses {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
