package console

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseQuery(t *testing.T) {
	cfg, err := ParseQuery("h0=nplinux1.cs.example.edu&p0=1234&f0=t1.txt&h3=host3&p3=5678&f3=t2.txt&sh=127.0.0.1&sp=9999")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(cfg.Targets))
	}
	if cfg.Targets[0].ID != "s0" || cfg.Targets[0].Host != "nplinux1.cs.example.edu" ||
		cfg.Targets[0].Port != "1234" || cfg.Targets[0].TestFile != "t1.txt" {
		t.Errorf("target 0 = %+v", cfg.Targets[0])
	}
	if cfg.Targets[1].ID != "s3" || cfg.Targets[1].TestFile != "t2.txt" {
		t.Errorf("target 1 = %+v", cfg.Targets[1])
	}
	if cfg.SocksHost != "127.0.0.1" || cfg.SocksPort != "9999" {
		t.Errorf("socks = %s:%s", cfg.SocksHost, cfg.SocksPort)
	}
}

func TestParseQueryEmpty(t *testing.T) {
	cfg, err := ParseQuery("")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if len(cfg.Targets) != 0 || cfg.SocksHost != "" {
		t.Errorf("cfg = %+v, want empty", cfg)
	}
}

func TestEscapeHTML(t *testing.T) {
	got := escapeHTML("a<b> & \"c\" 'd'\r\n")
	want := "a&lt;b&gt; &amp; &quot;c&quot; &apos;d&apos;&NewLine;"
	if got != want {
		t.Errorf("escapeHTML = %q, want %q", got, want)
	}
}

func TestWriteDocument(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &net.Dialer{}, ".", discardLogger())
	c.writeDocument([]Target{{ID: "s0", Host: "host.a", Port: "7001"}})

	out := buf.String()
	if !strings.HasPrefix(out, "Content-type: text/html\r\n\r\n") {
		t.Error("missing CGI header")
	}
	for _, want := range []string{`<th scope="col">host.a:7001</th>`, `<pre id="s0" class="mb-0">`} {
		if !strings.Contains(out, want) {
			t.Errorf("document missing %q", want)
		}
	}
}

// fakeShell accepts one connection and plays a prompt/command script.
func fakeShell(t *testing.T, wantLines []string) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		br := bufio.NewReader(conn)
		for _, want := range wantLines {
			if _, err := io.WriteString(conn, "% "); err != nil {
				return
			}
			line, err := br.ReadString('\n')
			if err != nil || line != want {
				return
			}
			if _, err := io.WriteString(conn, "ran "+strings.TrimSuffix(line, "\n")+"\n"); err != nil {
				return
			}
		}
		_, _ = io.WriteString(conn, "% ")
	}()
	return ln.Addr().String()
}

func TestRunTargetPlaysScriptOnPrompt(t *testing.T) {
	addr := fakeShell(t, []string{"echo hi\n", "exit\n"})
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "t1.txt"), []byte("echo hi\nexit\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	c := New(&buf, &net.Dialer{}, dir, discardLogger())
	if err := c.runTarget(Target{ID: "s0", Host: host, Port: port, TestFile: "t1.txt"}); err != nil {
		t.Fatalf("runTarget: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"document.getElementById('s0')",
		"<b>echo hi&NewLine;</b>",
		"<b>exit&NewLine;</b>",
		"ran echo hi&NewLine;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunTargetMissingTestcase(t *testing.T) {
	c := New(io.Discard, &net.Dialer{}, t.TempDir(), discardLogger())
	if err := c.runTarget(Target{ID: "s0", Host: "127.0.0.1", Port: "1", TestFile: "absent.txt"}); err == nil {
		t.Error("runTarget succeeded with a missing testcase file")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
