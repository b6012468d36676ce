package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"socks-proxy/internal/domain"
)

// ProxyService accepts client connections and runs each one as an
// isolated session. A session failure, panic included, never reaches its
// siblings or the accept loop.
type ProxyService struct {
	log      *slog.Logger
	listener net.Listener
	resolver domain.Resolver
	firewall domain.Firewall
	audit    *auditLog
}

func NewProxyService(l net.Listener, logger *slog.Logger, res domain.Resolver, fw domain.Firewall, audit io.Writer) *ProxyService {
	return &ProxyService{
		log:      logger,
		listener: l,
		resolver: res,
		firewall: fw,
		audit:    &auditLog{w: audit},
	}
}

// Serve runs the accept loop until the listener is closed.
func (s *ProxyService) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept failed", "error", err)
			continue
		}
		s.log.Info("client accepted", "client", conn.RemoteAddr().String())
		go s.newSession(conn).run(ctx)
	}
}

// Close stops the accept loop. Running sessions finish on their own.
func (s *ProxyService) Close() error {
	return s.listener.Close()
}

func (s *ProxyService) newSession(conn net.Conn) *session {
	return &session{
		Session:  domain.Session{ClientConn: conn, State: domain.StateAwaitRequest},
		log:      s.log.With("client", conn.RemoteAddr().String()),
		resolver: s.resolver,
		firewall: s.firewall,
		audit:    s.audit,
	}
}

// auditLog serializes the per-session decision blocks of concurrent
// sessions so blocks never interleave.
type auditLog struct {
	mu sync.Mutex
	w  io.Writer
}

func (a *auditLog) write(block string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = io.WriteString(a.w, block)
}
