package application

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"socks-proxy/internal/domain"
)

func bindRequest(expectIP net.IP, port uint16) []byte {
	req := &domain.Request{Command: domain.CmdBind, DstPort: port, DstIP: expectIP.To4(), UserID: "test"}
	return req.Encode()
}

func TestBindDoubleReply(t *testing.T) {
	res := &mapResolver{}
	addr, audit := startProxy(t, "permit b *.*.*.*\n", res)

	conn := dialProxy(t, addr)
	// The destination the peer will connect back from: loopback.
	if _, err := conn.Write(bindRequest(net.IPv4(127, 0, 0, 1), 20)); err != nil {
		t.Fatal(err)
	}

	first := readReply(t, conn)
	if first[1] != domain.RequestGranted {
		t.Fatalf("first reply code = %d, want 90", first[1])
	}
	rep, err := domain.DecodeReply(first)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Port == 0 {
		t.Fatal("first reply carries no bound port")
	}
	if !rep.IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("first reply IP = %s, want the proxy's local 127.0.0.1", rep.IP)
	}

	peer, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", portString(rep.Port)))
	if err != nil {
		t.Fatalf("peer dial: %v", err)
	}
	defer peer.Close()
	_ = peer.SetDeadline(time.Now().Add(5 * time.Second))

	second := readReply(t, conn)
	if !bytes.Equal(first, second) {
		t.Errorf("second reply % x differs from first % x", second, first)
	}

	// Relay both ways: peer is the server side now.
	if _, err := peer.Write([]byte("150 Opening\r\n")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 13)
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != "150 Opening\r\n" {
		t.Errorf("client got %q", got)
	}

	if _, err := conn.Write([]byte("data")); err != nil {
		t.Fatal(err)
	}
	back := make([]byte, 4)
	if _, err := io.ReadFull(peer, back); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(back) != "data" {
		t.Errorf("peer got %q", back)
	}

	waitForAudit(t, audit, "<Command>: BIND")
}

func TestBindPeerMismatchClosesWithoutSecondReply(t *testing.T) {
	res := &mapResolver{}
	addr, _ := startProxy(t, "permit b *.*.*.*\n", res)

	conn := dialProxy(t, addr)
	// Expect a peer that will never be the one connecting.
	if _, err := conn.Write(bindRequest(net.IPv4(10, 9, 9, 9), 20)); err != nil {
		t.Fatal(err)
	}

	first := readReply(t, conn)
	rep, err := domain.DecodeReply(first)
	if err != nil || rep.Code != domain.RequestGranted {
		t.Fatalf("first reply = % x (%v)", first, err)
	}

	intruder, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", portString(rep.Port)))
	if err != nil {
		t.Fatalf("intruder dial: %v", err)
	}
	defer intruder.Close()

	// No second reply: the session drops both ends.
	n, err := conn.Read(make([]byte, domain.ReplyLen))
	if n != 0 || err != io.EOF {
		t.Errorf("client read = (%d, %v), want (0, EOF)", n, err)
	}
}

func TestBindRejectedByFirewall(t *testing.T) {
	res := &mapResolver{}
	addr, _ := startProxy(t, "permit c *.*.*.*\n", res)

	conn := dialProxy(t, addr)
	if _, err := conn.Write(bindRequest(net.IPv4(127, 0, 0, 1), 20)); err != nil {
		t.Fatal(err)
	}
	reply := readReply(t, conn)
	if reply[1] != domain.RequestRejected {
		t.Errorf("reply code = %d, want 91: CONNECT rules must not grant BIND", reply[1])
	}
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
