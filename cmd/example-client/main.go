// Package main demonstrates a simple pipelined GET against a remote server
// using h1conn's client connection multiplexer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/albertbausili/h1conn/internal/transport"
	"github.com/albertbausili/h1conn/pkg/httpconn"
)

func main() {
	addr := "example.com:80"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	engine, err := transport.NewClientEngine(log.Default())
	if err != nil {
		log.Fatalf("start client engine: %v", err)
	}

	cfg := httpconn.DefaultConfig()
	conn, err := transport.Dial(engine, "tcp", addr, httpconn.Version11, addr, false, cfg,
		httpconn.NewPrometheusMetrics(), httpconn.NewOTelTracer("example-client"), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}

	var wg sync.WaitGroup
	for _, path := range []string{"/", "/status"} {
		wg.Add(1)
		path := path
		conn.CreateStream(context.Background(), func(s httpconn.Stream, err error) {
			if err != nil {
				log.Printf("create stream for %s: %v", path, err)
				wg.Done()
				return
			}

			var once sync.Once
			finish := func() { once.Do(wg.Done) }

			s.HeadHandler(func(resp httpconn.ResponseHead) {
				fmt.Printf("%s -> %d %s\n", path, resp.StatusCode, resp.StatusText)
			})
			s.EndHandler(func(httpconn.Headers) { finish() })
			s.ExceptionHandler(func(err error) {
				log.Printf("%s: %v", path, err)
				finish()
			})

			req := httpconn.RequestHead{
				Method:    httpconn.MethodGet,
				URI:       path,
				Authority: addr,
				Headers:   httpconn.NewHeaders(),
			}
			if err := s.WriteHead(req, false, nil, true, false); err != nil {
				log.Printf("write head for %s: %v", path, err)
				finish()
			}
		})
	}

	wg.Wait()
	_ = engine.Stop()
}
