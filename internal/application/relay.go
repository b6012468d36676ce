package application

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"socks-proxy/internal/domain"
)

// relay runs the two unidirectional pumps until both observe termination.
// The pumps share the session's sockets but never a buffer, and each
// socket sees reads from exactly one pump and writes from the other.
func (s *session) relay() domain.State {
	var g errgroup.Group
	g.Go(func() error { return pump(s.ServerConn, s.ClientConn) })
	g.Go(func() error { return pump(s.ClientConn, s.ServerConn) })
	if err := g.Wait(); err != nil {
		s.log.Debug("relay ended", "error", err)
	}
	return domain.StateClosed
}

// pump moves bytes from src to dst. Each chunk is written out in full
// before the next read. A clean EOF half-closes dst so in-flight bytes of
// the other direction still drain; a write failure tears both ends down.
func pump(dst, src net.Conn) error {
	buf := make([]byte, domain.MaxSegment)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				_ = src.Close()
				_ = dst.Close()
				return errors.Wrap(werr, "relay write")
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				closeWrite(dst)
				return nil
			}
			_ = src.Close()
			_ = dst.Close()
			return errors.Wrap(rerr, "relay read")
		}
	}
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}
