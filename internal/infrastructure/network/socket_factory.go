package network

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenTCP opens the service listener on an IPv4 port. SO_REUSEADDR lets
// a restarted proxy rebind while old sessions linger in TIME_WAIT.
func ListenTCP(ctx context.Context, port int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	return lc.Listen(ctx, "tcp4", ":"+strconv.Itoa(port))
}

// ListenEphemeral opens a BIND acceptor on an OS-assigned port. The caller
// reads the bound port back from Addr.
func ListenEphemeral(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	return lc.Listen(ctx, "tcp4", ":0")
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
