package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"splinter/configs"
)

// Frames are length-prefixed with a 4-byte big-endian size. The stream opens
// with an explicit version negotiation: the initiator writes [min, max], the
// responder answers with the highest mutually supported version, or zero
// when there is no overlap.

const maxFrameSize = 64 * 1024 * 1024

func negotiateOutbound(conn net.Conn) (uint32, error) {
	var req [8]byte
	binary.BigEndian.PutUint32(req[0:4], configs.FrameVersionMin)
	binary.BigEndian.PutUint32(req[4:8], configs.FrameVersion)
	if _, err := conn.Write(req[:]); err != nil {
		return 0, err
	}
	var resp [4]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return 0, err
	}
	version := binary.BigEndian.Uint32(resp[:])
	if version == 0 {
		return 0, ErrUnsupportedVersion
	}
	return version, nil
}

func negotiateInbound(conn net.Conn) (uint32, error) {
	var req [8]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		return 0, err
	}
	min := binary.BigEndian.Uint32(req[0:4])
	max := binary.BigEndian.Uint32(req[4:8])

	version := uint32(0)
	if min <= max && min <= configs.FrameVersion && max >= configs.FrameVersionMin {
		version = configs.FrameVersion
		if max < version {
			version = max
		}
	}

	var resp [4]byte
	binary.BigEndian.PutUint32(resp[:], version)
	if _, err := conn.Write(resp[:]); err != nil {
		return 0, err
	}
	if version == 0 {
		return 0, ErrUnsupportedVersion
	}
	return version, nil
}

// frameConn adapts a net.Conn into a framed Connection.
type frameConn struct {
	conn           net.Conn
	version        uint32
	remoteEndpoint string
	localEndpoint  string

	sendMu sync.Mutex
	recvMu sync.Mutex
	closed bool
	mu     sync.Mutex
}

func newFrameConn(conn net.Conn, version uint32, scheme string) *frameConn {
	return &frameConn{
		conn:           conn,
		version:        version,
		remoteEndpoint: scheme + conn.RemoteAddr().String(),
		localEndpoint:  scheme + conn.LocalAddr().String(),
	}
}

func (c *frameConn) Send(message []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.isClosed() {
		return ErrDisconnected
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(message)))
	if _, err := c.conn.Write(size[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(message)
	return err
}

func (c *frameConn) Recv() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if c.isClosed() {
		return nil, ErrDisconnected
	}
	var size [4]byte
	if _, err := io.ReadFull(c.conn, size[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *frameConn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *frameConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *frameConn) LocalEndpoint() string { return c.localEndpoint }

func (c *frameConn) RemoteEndpoint() string { return c.remoteEndpoint }
