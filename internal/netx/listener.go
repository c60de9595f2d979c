package netx

import (
	"net"
)

// Listener is a TCPListener. Connections accepted by this listener provide
// extra methods to interact with the connection's underlying file descriptor.
type Listener struct {
	*net.TCPListener
}

// NewListener returns a netx.Listener.
func NewListener(l *net.TCPListener) *Listener {
	return &Listener{
		TCPListener: l,
	}
}

// Listen announces on the local TCP address addr.
func Listen(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	l, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	return NewListener(l), nil
}

// Accept accepts a connection and returns a *Conn which includes the
// connection's accept time and provides operations on the underlying file
// descriptor.
func (ln *Listener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	// The accept time is recorded by fromTCPConn right after AcceptTCP. Note
	// that File() duplicates the underlying file descriptor: the duplicate is
	// closed by Conn.Close.
	c, err := fromTCPConn(tc)
	if err != nil {
		tc.Close()
		return nil, err
	}
	return c, nil
}
