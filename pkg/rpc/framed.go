package rpc

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
)

// FramedConnection implements Connection over a stream-oriented net.Conn
// using a 4 byte big-endian length prefix per message.
type FramedConnection struct {
	conn           net.Conn
	maxMessageSize int64
	mu             sync.Mutex
	closeOnce      sync.Once
	closeErr       error
}

func NewFramedConnection(conn net.Conn, maxMessageSize int64) *FramedConnection {
	return &FramedConnection{
		conn:           conn,
		maxMessageSize: maxMessageSize,
	}
}

func (c *FramedConnection) Send(data []byte) error {
	if err := CheckMessageSize(len(data), c.maxMessageSize); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	bufs := net.Buffers{header, data}
	if _, err := bufs.WriteTo(c.conn); err != nil {
		return closedOr(err)
	}
	return nil
}

func (c *FramedConnection) Receive() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, closedOr(err)
	}
	length := binary.BigEndian.Uint32(header)
	if err := CheckMessageSize(int(length), c.maxMessageSize); err != nil {
		return nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, closedOr(err)
	}
	return data, nil
}

func (c *FramedConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	return err
}
