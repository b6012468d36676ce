// Package socks4 implements the client half of the SOCKS4/4A wire
// contract: a proxy.Dialer that tunnels TCP connections through a SOCKS4
// server, sending the 4A form when the target host is not a literal IPv4
// address.
package socks4

import (
	"io"
	"net"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"

	"socks-proxy/internal/domain"
)

func init() {
	proxy.RegisterDialerType("socks4", func(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
		d := &Dialer{Addr: u.Host, Forward: forward}
		if u.User != nil {
			d.UserID = u.User.Username()
		}
		return d, nil
	})
}

// Dialer connects through the SOCKS4 proxy at Addr. Forward reaches the
// proxy itself; nil means a direct net.Dialer.
type Dialer struct {
	Addr    string
	UserID  string
	Forward proxy.Dialer
}

func (d *Dialer) Dial(network, addr string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, errors.Errorf("socks4: network %q not supported", network)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrap(err, "socks4: bad address")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.Errorf("socks4: bad port %q", portStr)
	}

	forward := d.Forward
	if forward == nil {
		forward = &net.Dialer{}
	}
	conn, err := forward.Dial("tcp", d.Addr)
	if err != nil {
		return nil, errors.Wrap(err, "socks4: dial proxy")
	}
	if err := d.handshake(conn, host, uint16(port)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (d *Dialer) handshake(conn net.Conn, host string, port uint16) error {
	req := &domain.Request{Command: domain.CmdConnect, DstPort: port, UserID: d.UserID}
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		req.DstIP = ip.To4()
	} else {
		// 0.0.0.1 marks the 4A form: the proxy resolves the name.
		req.DstIP = net.IPv4(0, 0, 0, 1).To4()
		req.Domain = host
	}

	if _, err := conn.Write(req.Encode()); err != nil {
		return errors.Wrap(err, "socks4: write request")
	}
	buf := make([]byte, domain.ReplyLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return errors.Wrap(err, "socks4: read reply")
	}
	rep, err := domain.DecodeReply(buf)
	if err != nil {
		return err
	}
	if rep.Code != domain.RequestGranted {
		return errors.Errorf("socks4: request rejected (code %d)", rep.Code)
	}
	return nil
}
