//go:build !linux
// +build !linux

package netx

import (
	"net"
	"time"

	"github.com/m-lab/feedrelay/internal/congestion"
	"github.com/m-lab/tcp-info/tcp"
)

func fromTCPConn(tcpConn *net.TCPConn) (*Conn, error) {
	// TCP_INFO isn't supported here: the file pointer is not needed.
	return &Conn{
		Conn:       tcpConn,
		acceptTime: time.Now(),
	}, nil
}

func (c *Conn) info() (tcp.LinuxTCPInfo, error) {
	return tcp.LinuxTCPInfo{}, congestion.ErrNoSupport
}

func (c *Conn) close() error {
	return c.Conn.Close()
}
