// Package netx provides a net.Conn and a net.Listener that keep a duplicate
// of the socket's file descriptor, to read kernel-level TCP metrics and
// socket options while the connection is in use.
package netx

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	guuid "github.com/google/uuid"
	"github.com/m-lab/feedrelay/internal/congestion"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/tcp-info/tcp"
	"github.com/m-lab/uuid"
)

// ConnInfo provides operations on a net.Conn's underlying file descriptor.
// Connections returned by Dial and Listener.Accept implement it.
type ConnInfo interface {
	ByteCounters() (uint64, uint64)
	Info() (tcp.LinuxTCPInfo, error)
	AcceptTime() time.Time
	UUID() (string, error)
	CC() (string, error)
	SetCC(string) error
}

// Conn is an extended net.Conn that stores its accept (or dial) time, a copy
// of the underlying socket's file descriptor and counters for read/written
// bytes.
type Conn struct {
	net.Conn

	fp           *os.File
	acceptTime   time.Time
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// Dial connects to the TCP address addr. If cc is not empty, the congestion
// control algorithm is set on the new connection; failing to do so is not
// an error, since some systems don't support it.
func Dial(ctx context.Context, addr, cc string) (*Conn, error) {
	d := &net.Dialer{Timeout: spec.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := fromTCPConn(c.(*net.TCPConn))
	if err != nil {
		c.Close()
		return nil, err
	}
	if cc != "" {
		// Errors are visible to the caller through CC().
		conn.SetCC(cc)
	}
	return conn, nil
}

// Read reads from the underlying net.Conn and updates the read bytes counter.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.bytesRead.Add(uint64(n))
	return n, err
}

// Write writes to the underlying net.Conn and updates the written bytes counter.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.bytesWritten.Add(uint64(n))
	return n, err
}

// ByteCounters returns the read and written byte counters, in this order.
func (c *Conn) ByteCounters() (uint64, uint64) {
	return c.bytesRead.Load(), c.bytesWritten.Load()
}

// Close closes the underlying net.Conn and the duplicate file descriptor.
func (c *Conn) Close() error {
	return c.close()
}

// SetCC sets the congestion control algorithm on the underlying file
// descriptor.
func (c *Conn) SetCC(cc string) error {
	if c.fp == nil {
		return congestion.ErrNoSupport
	}
	return congestion.Set(c.fp, cc)
}

// CC returns the current congestion control algorithm.
func (c *Conn) CC() (string, error) {
	if c.fp == nil {
		return "", congestion.ErrNoSupport
	}
	return congestion.Get(c.fp)
}

// Info returns the TCP_INFO struct of the underlying socket.
func (c *Conn) Info() (tcp.LinuxTCPInfo, error) {
	return c.info()
}

// AcceptTime returns this connection's accept time.
func (c *Conn) AcceptTime() time.Time {
	return c.acceptTime
}

// UUID returns an M-Lab UUID. On platforms not supporting SO_COOKIE, it
// returns a google/uuid as a fallback. If the fallback fails, it panics.
func (c *Conn) UUID() (string, error) {
	if c.fp != nil {
		if id, err := uuid.FromFile(c.fp); err == nil {
			return id, nil
		}
	}
	gid, err := guuid.NewUUID()
	// NOTE: this could only fail when guuid.GetTime() fails.
	rtx.Must(err, "unable to fallback to uuid")
	return gid.String(), nil
}

var _ ConnInfo = &Conn{}
