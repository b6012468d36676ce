package domain

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

// Wire sizes.
const (
	MinRequestLen = 9 // fixed header plus the userid NUL
	ReplyLen      = 8
	MaxSegment    = 1024 // largest frame read in one piece
)

var (
	ErrRequestTooShort    = errors.New("socks4: request shorter than 9 bytes")
	ErrBadVersion         = errors.New("socks4: version is not 4")
	ErrBadCommand         = errors.New("socks4: command is neither CONNECT nor BIND")
	ErrNoUserIDTerminator = errors.New("socks4: userid is not NUL-terminated")
	ErrNoDomainTerminator = errors.New("socks4: domain is not NUL-terminated")
	ErrBadReply           = errors.New("socks4: malformed reply")
)

// Request is the decoded form of the client's first message.
type Request struct {
	Command byte
	DstPort uint16
	DstIP   net.IP // the four wire bytes, network order
	UserID  string
	Domain  string // SOCKS4A only
}

// SOCKS4A reports whether the literal address flags a trailing domain
// name: the three high octets zero and the low octet non-zero (0.0.0.X).
func (r *Request) SOCKS4A() bool {
	ip := r.DstIP.To4()
	if ip == nil {
		return false
	}
	return ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0
}

// Host returns the name the proxy must resolve: the SOCKS4A domain when
// present, the dotted-quad literal otherwise. The 4A check comes first so
// a 0.0.0.X literal is never dialed.
func (r *Request) Host() string {
	if r.SOCKS4A() {
		return r.Domain
	}
	return r.DstIP.String()
}

// DecodeRequest parses a SOCKS4/4A request from one frame.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < MinRequestLen {
		return nil, ErrRequestTooShort
	}
	if buf[0] != SocksVersion4 {
		return nil, ErrBadVersion
	}
	cmd := buf[1]
	if cmd != CmdConnect && cmd != CmdBind {
		return nil, ErrBadCommand
	}

	req := &Request{
		Command: cmd,
		DstPort: binary.BigEndian.Uint16(buf[2:4]),
		DstIP:   net.IPv4(buf[4], buf[5], buf[6], buf[7]).To4(),
	}

	end := bytes.IndexByte(buf[8:], 0)
	if end < 0 {
		return nil, ErrNoUserIDTerminator
	}
	req.UserID = string(buf[8 : 8+end])

	if req.SOCKS4A() {
		rest := buf[8+end+1:]
		dend := bytes.IndexByte(rest, 0)
		if dend < 0 {
			return nil, ErrNoDomainTerminator
		}
		req.Domain = string(rest[:dend])
	}
	return req, nil
}

// Encode renders the request back to its wire form.
func (r *Request) Encode() []byte {
	b := make([]byte, 0, MinRequestLen+len(r.UserID)+len(r.Domain)+1)
	b = append(b, SocksVersion4, r.Command)
	b = binary.BigEndian.AppendUint16(b, r.DstPort)
	b = append(b, r.DstIP.To4()...)
	b = append(b, r.UserID...)
	b = append(b, 0)
	if r.SOCKS4A() {
		b = append(b, r.Domain...)
		b = append(b, 0)
	}
	return b
}

// Reply is the 8-byte server response. Port and IP are zero for CONNECT
// and carry the bound endpoint for BIND.
type Reply struct {
	Code byte
	Port uint16
	IP   net.IP
}

func (r Reply) Encode() []byte {
	b := make([]byte, ReplyLen)
	b[0] = ReplyVersion
	b[1] = r.Code
	binary.BigEndian.PutUint16(b[2:4], r.Port)
	if ip := r.IP.To4(); ip != nil {
		copy(b[4:8], ip)
	}
	return b
}

func DecodeReply(buf []byte) (Reply, error) {
	if len(buf) != ReplyLen || buf[0] != ReplyVersion {
		return Reply{}, ErrBadReply
	}
	return Reply{
		Code: buf[1],
		Port: binary.BigEndian.Uint16(buf[2:4]),
		IP:   net.IPv4(buf[4], buf[5], buf[6], buf[7]).To4(),
	}, nil
}
