package transport

import (
	"github.com/albertbausili/h1conn/pkg/httpconn"
)

// Dial opens a connection through engine and wires it into a ready-to-use
// httpconn.Connection: the Transport and Connection reference each other
// before any traffic can arrive, closing the construction-order loop
// Transport.SetHandler/Connection.NewConnection otherwise leaves open.
func Dial(
	engine *ClientEngine,
	network, address string,
	version httpconn.Version,
	server string,
	ssl bool,
	cfg httpconn.Config,
	metrics httpconn.Metrics,
	tracer httpconn.Tracer,
	listener httpconn.PoolListener,
) (*httpconn.Connection, error) {
	t, err := engine.Dial(network, address)
	if err != nil {
		return nil, err
	}
	conn := httpconn.NewConnection(t, t.Executor(), version, server, ssl, cfg, metrics, tracer, listener)
	t.SetHandler(conn)
	return conn, nil
}
