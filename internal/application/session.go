package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"time"

	"socks-proxy/internal/domain"
	"socks-proxy/internal/infrastructure/network"
)

// handshakeTimeout is the deadline on the client connection before the
// reply: it bounds reading the request and writing the reply. Resolution
// and the outbound connect do not run under it. It is cleared once the
// granted reply is on the wire: a BIND peer may take arbitrarily long to
// connect back, and the relay has no deadline at all.
const handshakeTimeout = 30 * time.Second

// session drives one client connection through the protocol state
// machine: decode, resolve, firewall, connect or bind, reply, relay.
type session struct {
	domain.Session

	log      *slog.Logger
	resolver domain.Resolver
	firewall domain.Firewall
	audit    *auditLog
	request  *domain.Request
}

func (s *session) run(ctx context.Context) {
	defer s.close()
	_ = s.ClientConn.SetDeadline(time.Now().Add(handshakeTimeout))

	for s.State != domain.StateClosed {
		switch s.State {
		case domain.StateAwaitRequest:
			s.State = s.readRequest(ctx)
		case domain.StateResolving:
			s.State = s.resolve(ctx)
		case domain.StateFirewallCheck:
			s.State = s.checkFirewall()
		case domain.StateConnecting:
			s.State = s.connect(ctx)
		case domain.StateBinding:
			s.State = s.bind(ctx)
		case domain.StateRelaying:
			s.State = s.relay()
		default:
			s.State = domain.StateClosed
		}
	}
}

// close is the single terminal transition. It runs as the session
// goroutine's deferred call, so it also contains panics.
func (s *session) close() {
	if r := recover(); r != nil {
		s.log.Error("session panicked", "panic", r)
	}
	if s.Acceptor != nil {
		_ = s.Acceptor.Close()
	}
	if s.ServerConn != nil {
		_ = s.ServerConn.Close()
	}
	_ = s.ClientConn.Close()
	s.State = domain.StateClosed
	s.log.Debug("session closed")
}

// readRequest decodes the client's first frame. Any decode failure closes
// the session silently; the protocol has no reply slot before a request
// is understood.
func (s *session) readRequest(ctx context.Context) domain.State {
	buf := make([]byte, domain.MaxSegment)
	n, err := s.ClientConn.Read(buf)
	if err != nil {
		s.log.Debug("request read failed", "error", err)
		return domain.StateClosed
	}
	if s.log.Enabled(ctx, slog.LevelDebug) {
		s.log.Debug("request frame", "bytes", n, "dump", hex.Dump(buf[:n]))
	}

	req, err := domain.DecodeRequest(buf[:n])
	if err != nil {
		s.log.Info("malformed request", "error", err)
		return domain.StateClosed
	}
	s.request = req
	s.Command = req.Command
	return domain.StateResolving
}

func (s *session) resolve(ctx context.Context) domain.State {
	ep, err := s.resolver.Resolve(ctx, s.request.Host(), s.request.DstPort)
	if err != nil {
		s.log.Info("resolve failed", "host", s.request.Host(), "error", err)
		return s.reject()
	}
	s.ServerEndpoint = ep
	s.log.Debug("resolved", "host", s.request.Host(), "dest", ep.String())
	return domain.StateFirewallCheck
}

func (s *session) checkFirewall() domain.State {
	if !s.firewall.Allow(s.Command, s.ServerEndpoint.IP) {
		s.log.Info("firewall rejected", "cmd", s.commandName(), "dest", s.ServerEndpoint.String())
		return s.reject()
	}
	if s.Command == domain.CmdBind {
		return domain.StateBinding
	}
	return domain.StateConnecting
}

func (s *session) connect(ctx context.Context) domain.State {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", s.ServerEndpoint.String())
	if err != nil {
		s.log.Info("connect failed", "dest", s.ServerEndpoint.String(), "error", err)
		return s.reject()
	}
	s.ServerConn = conn
	s.log.Info("connected", "dest", s.ServerEndpoint.String())

	s.writeAudit("Accept")
	if _, err := s.ClientConn.Write(domain.Reply{Code: domain.RequestGranted}.Encode()); err != nil {
		s.log.Debug("reply write failed", "error", err)
		return domain.StateClosed
	}
	_ = s.ClientConn.SetDeadline(time.Time{})
	return domain.StateRelaying
}

// bind opens a session-owned acceptor on an ephemeral port, tells the
// client where it is, and waits for the resolved destination to connect
// back. The granted reply goes out twice with identical content; the
// second only after the peer's address is verified.
func (s *session) bind(ctx context.Context) domain.State {
	ln, err := network.ListenEphemeral(ctx)
	if err != nil {
		s.log.Info("bind listener failed", "error", err)
		return s.reject()
	}
	s.Acceptor = ln

	bound := ln.Addr().(*net.TCPAddr)
	reply := domain.Reply{
		Code: domain.RequestGranted,
		Port: uint16(bound.Port),
		IP:   s.localIPv4(),
	}
	s.log.Info("bind listening", "port", bound.Port, "expect", s.ServerEndpoint.IP.String())

	s.writeAudit("Accept")
	if _, err := s.ClientConn.Write(reply.Encode()); err != nil {
		s.log.Debug("first bind reply failed", "error", err)
		return domain.StateClosed
	}
	_ = s.ClientConn.SetDeadline(time.Time{})

	peer, err := ln.Accept()
	if err != nil {
		s.log.Info("bind accept failed", "error", err)
		return domain.StateClosed
	}
	peerIP := peer.RemoteAddr().(*net.TCPAddr).IP.To4()
	if !peerIP.Equal(s.ServerEndpoint.IP) {
		s.log.Info("bind peer mismatch", "peer", peerIP.String(), "expect", s.ServerEndpoint.IP.String())
		_ = peer.Close()
		return domain.StateClosed
	}
	s.ServerConn = peer
	_ = ln.Close()
	s.Acceptor = nil

	if _, err := s.ClientConn.Write(reply.Encode()); err != nil {
		s.log.Debug("second bind reply failed", "error", err)
		return domain.StateClosed
	}
	return domain.StateRelaying
}

// reject answers 91 and ends the session. Used by every pre-reply failure
// that still has a reply slot: resolve, firewall, connect, bind listener.
func (s *session) reject() domain.State {
	s.writeAudit("Reject")
	_, _ = s.ClientConn.Write(domain.Reply{Code: domain.RequestRejected}.Encode())
	return domain.StateClosed
}

// localIPv4 is the proxy address the BIND peer should be told about: the
// address the client already reaches us on.
func (s *session) localIPv4() net.IP {
	if addr, ok := s.ClientConn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.To4()
	}
	return nil
}

func (s *session) commandName() string {
	if s.Command == domain.CmdBind {
		return "BIND"
	}
	return "CONNECT"
}

// writeAudit emits the per-session decision block, once, after the
// accept/reject decision is made.
func (s *session) writeAudit(verdict string) {
	srcIP, srcPort, err := net.SplitHostPort(s.ClientConn.RemoteAddr().String())
	if err != nil {
		srcIP, srcPort = s.ClientConn.RemoteAddr().String(), "0"
	}
	dstIP := s.request.Host()
	if s.ServerEndpoint.IP != nil {
		dstIP = s.ServerEndpoint.IP.String()
	}
	s.audit.write(fmt.Sprintf(
		"<S_IP>: %s\n<S_PORT>: %s\n<D_IP>: %s\n<D_PORT>: %d\n<Command>: %s\n<Reply>: %s\n",
		srcIP, srcPort, dstIP, s.request.DstPort, s.commandName(), verdict))
}
