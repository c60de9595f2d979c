package congestion

import (
	"os"

	"golang.org/x/sys/unix"
)

func set(fp *os.File, cc string) error {
	rc, err := fp.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION, cc)
	})
	if err != nil {
		return err
	}
	return serr
}

func get(fp *os.File) (string, error) {
	rc, err := fp.SyscallConn()
	if err != nil {
		return "", err
	}
	var (
		cc   string
		gerr error
	)
	err = rc.Control(func(fd uintptr) {
		cc, gerr = unix.GetsockoptString(int(fd), unix.IPPROTO_TCP, unix.TCP_CONGESTION)
	})
	if err != nil {
		return "", err
	}
	return cc, gerr
}
