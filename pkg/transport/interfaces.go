package transport

import (
	"context"
	"net/http"
)

// Conn is a single streaming connection to the gateway.
// Implemented by WebsocketConn.
type Conn interface {
	// Send writes one message frame to the gateway.
	Send(data []byte) error

	// Receive blocks until the next message frame arrives. It returns
	// an error when the connection is closed or broken; after an
	// error the connection is unusable.
	Receive() ([]byte, error)

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Dialer establishes connections to the gateway.
// Implemented by WebsocketDialer.
type Dialer interface {
	// Dial opens a connection to the given URL with the given
	// headers.
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}
