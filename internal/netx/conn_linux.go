package netx

import (
	"net"
	"time"

	"github.com/m-lab/ndt-server/tcpinfox"
	"github.com/m-lab/tcp-info/tcp"
)

func fromTCPConn(tcpConn *net.TCPConn) (*Conn, error) {
	// On Linux, this can only fail when the file duplication fails.
	fp, err := tcpConn.File()
	if err != nil {
		return nil, err
	}
	return &Conn{
		Conn:       tcpConn,
		fp:         fp,
		acceptTime: time.Now(),
	}, nil
}

func (c *Conn) info() (tcp.LinuxTCPInfo, error) {
	ti, err := tcpinfox.GetTCPInfo(c.fp)
	if err != nil {
		return tcp.LinuxTCPInfo{}, err
	}
	return *ti, nil
}

func (c *Conn) close() error {
	c.fp.Close()
	return c.Conn.Close()
}
