package rpc

import (
	"context"
	"errors"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrMessageTooLarge  = errors.New("message exceeds size limit")
)

// Connection represents a bidirectional communication channel
type Connection interface {
	// Send sends a message to the remote peer
	Send(data []byte) error

	// Receive blocks until a message is received from the remote peer.
	// It returns ErrConnectionClosed once the peer has gone away.
	Receive() ([]byte, error)

	// Close closes the connection
	Close() error
}

// ServerTransport handles incoming connections for the server
type ServerTransport interface {
	// Listen starts listening for incoming connections
	Listen() error

	// Accept blocks until a new connection is available. It returns
	// ErrTransportClosed after Close.
	Accept() (Connection, error)

	// Close stops listening and closes the transport
	Close() error
}

// ClientTransport handles outgoing connections for the client
type ClientTransport interface {
	// Connect establishes a connection to the server
	Connect(ctx context.Context) (Connection, error)
}

// EndpointAwareTransport is implemented by transports that route by endpoint
// path themselves (e.g. one queue subscription per endpoint).
type EndpointAwareTransport interface {
	ServerTransport
	RegisterEndpoint(path string) error
}

// Acknowledger is implemented by connections carrying one-way messages whose
// delivery must be settled once the message has been dispatched.
type Acknowledger interface {
	// Ack settles a message that was handled.
	Ack() error
	// Nak reports a handler failure; the message may be redelivered.
	Nak() error
	// Reject settles a message that can never be handled.
	Reject(reason error) error
}

// ConnectionHandler is called for each new connection on the server
type ConnectionHandler func(Connection)
