package wire

import (
	"strconv"
	"sync"
)

var (
	headerSep = []byte(": ")
	crlf      = []byte("\r\n")
	chunkEnd  = []byte("0\r\n\r\n")

	// encodeBufferPool amortizes the allocation of the request-line+headers
	// buffer across requests on a pipelined connection.
	encodeBufferPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}
)

// RequestHead is the fully-framed request line plus headers the encoder
// serializes. Framing decisions (Host, Connection, Transfer-Encoding, ...)
// have already been applied by the caller.
type RequestHead struct {
	Method  string
	URI     string
	Version string
	Headers [][2]string
}

// EncodeRequestHead serializes the request line and headers into a single
// buffer obtained from a pool, returning it and a function to release it
// once the caller's write completes.
func EncodeRequestHead(head RequestHead, body []byte) ([]byte, func()) {
	bufPtr := encodeBufferPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	buf = append(buf, head.Method...)
	buf = append(buf, ' ')
	buf = append(buf, head.URI...)
	buf = append(buf, ' ')
	buf = append(buf, head.Version...)
	buf = append(buf, crlf...)

	for _, h := range head.Headers {
		buf = append(buf, h[0]...)
		buf = append(buf, headerSep...)
		buf = append(buf, h[1]...)
		buf = append(buf, crlf...)
	}
	buf = append(buf, crlf...)

	if len(body) > 0 {
		buf = append(buf, body...)
	}

	*bufPtr = buf
	release := func() {
		if cap(buf) <= 65536 {
			*bufPtr = buf[:0]
			encodeBufferPool.Put(bufPtr)
		}
	}
	return buf, release
}

// EncodeChunk frames body as one chunked-transfer chunk. end additionally
// appends the terminal zero-size chunk (without trailers: this connection
// core never emits request trailers).
func EncodeChunk(body []byte, end bool) []byte {
	if len(body) == 0 && !end {
		return nil
	}
	buf := make([]byte, 0, len(body)+32)
	if len(body) > 0 {
		buf = strconv.AppendInt(buf, int64(len(body)), 16)
		buf = append(buf, crlf...)
		buf = append(buf, body...)
		buf = append(buf, crlf...)
	}
	if end {
		buf = append(buf, chunkEnd...)
	}
	return buf
}

// EncodeRawChunk frames body as CONNECT/tunnel traffic: no HTTP framing at
// all, just the bytes as given.
func EncodeRawChunk(body []byte) []byte {
	return body
}
