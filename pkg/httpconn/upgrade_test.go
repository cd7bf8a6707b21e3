package httpconn

import (
	"errors"
	"testing"
)

var errCodecRemoval = errors.New("upgrade_test: simulated codec removal failure")

// TestConnectTunnelRemovesCodecAndDeliversRawChunks exercises spec.md §4.F:
// a CONNECT request answered with 200 triggers codec removal, and any bytes
// the codec flushed back out during removal are redelivered to the tunnel
// stream as raw chunks rather than framed content.
func TestConnectTunnelRemovesCodecAndDeliversRawChunks(t *testing.T) {
	transport := newFakeTransport()
	transport.removedOK = []InboundMessage{
		{Kind: InboundRawChunk, Chunk: []byte("leftover-1")},
		{Kind: InboundRawChunk, Chunk: []byte("leftover-2")},
	}
	conn, _ := newTestConnection(transport, nil)

	s := createStream(t, conn)
	req := RequestHead{Method: MethodConnect, URI: "proxy.example.com:443", Authority: "proxy.example.com:443", Headers: NewHeaders()}
	if err := s.WriteHead(req, false, nil, true, true); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}

	var chunks [][]byte
	s.ChunkHandler(func(c []byte) {
		cp := append([]byte(nil), c...)
		chunks = append(chunks, cp)
	})

	resp := &ResponseHead{Version: Version11, StatusCode: 200, StatusText: "Connection Established", Headers: NewHeaders()}
	conn.HandleMessage(InboundMessage{Kind: InboundResponseHead, Response: resp})

	if len(chunks) != 2 {
		t.Fatalf("expected the two leftover chunks flushed during codec removal to be redelivered, got %d", len(chunks))
	}
	if string(chunks[0]) != "leftover-1" || string(chunks[1]) != "leftover-2" {
		t.Fatalf("unexpected chunk contents: %q", chunks)
	}
}

// TestConnectTunnelCodecRemovalFailureFailsConnection checks that a
// transport error while stripping the HTTP codec fails the whole
// connection instead of silently dropping the tunnel.
func TestConnectTunnelCodecRemovalFailureFailsConnection(t *testing.T) {
	transport := newFakeTransport()
	transport.codecErr = errCodecRemoval
	conn, _ := newTestConnection(transport, nil)

	s := createStream(t, conn)
	req := RequestHead{Method: MethodConnect, URI: "proxy.example.com:443", Authority: "proxy.example.com:443", Headers: NewHeaders()}
	if err := s.WriteHead(req, false, nil, true, true); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}

	var gotErr error
	s.ExceptionHandler(func(err error) { gotErr = err })

	resp := &ResponseHead{Version: Version11, StatusCode: 200, StatusText: "Connection Established", Headers: NewHeaders()}
	conn.HandleMessage(InboundMessage{Kind: InboundResponseHead, Response: resp})

	if gotErr == nil {
		t.Fatalf("expected a failure to be delivered to the tunnel stream")
	}
}

// TestNonUpgradeConnectResponseLeavesCodecInPlace ensures a CONNECT request
// that fails (e.g. 407) never triggers codec removal: the pipeline keeps
// treating the exchange as ordinary HTTP.
func TestNonUpgradeConnectResponseLeavesCodecInPlace(t *testing.T) {
	transport := newFakeTransport()
	conn, _ := newTestConnection(transport, nil)

	s := createStream(t, conn)
	req := RequestHead{Method: MethodConnect, URI: "proxy.example.com:443", Authority: "proxy.example.com:443", Headers: NewHeaders()}
	if err := s.WriteHead(req, false, nil, true, true); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}

	respHeaders := NewHeaders()
	respHeaders.Set("Content-Length", "0")
	resp := &ResponseHead{Version: Version11, StatusCode: 407, StatusText: "Proxy Authentication Required", Headers: respHeaders}
	conn.HandleMessage(InboundMessage{Kind: InboundResponseHead, Response: resp})

	if transport.removals != 0 {
		t.Fatalf("expected no codec removal for a non-matching status, got %d", transport.removals)
	}
}
