// Package console implements the CGI console: a page of terminal panes,
// one per configured target, each driven by a scripted client session
// that may be tunneled through a SOCKS4 proxy.
package console

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"socks-proxy/internal/domain"
)

const maxTargets = 5

// Target is one console pane: a remote shell to drive with a testcase.
type Target struct {
	ID       string // pane element id, "s0".."s4"
	Host     string
	Port     string
	TestFile string
}

// Config is the decoded QUERY_STRING.
type Config struct {
	Targets   []Target
	SocksHost string
	SocksPort string
}

// ParseQuery decodes the h<n>/p<n>/f<n> target keys and the optional
// sh/sp proxy keys. Targets without a host are skipped.
func ParseQuery(raw string) (*Config, error) {
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse query string")
	}
	cfg := &Config{SocksHost: vals.Get("sh"), SocksPort: vals.Get("sp")}
	for i := 0; i < maxTargets; i++ {
		n := strconv.Itoa(i)
		host := vals.Get("h" + n)
		if host == "" {
			continue
		}
		cfg.Targets = append(cfg.Targets, Target{
			ID:       "s" + n,
			Host:     host,
			Port:     vals.Get("p" + n),
			TestFile: vals.Get("f" + n),
		})
	}
	return cfg, nil
}

// Console fans the configured targets out as concurrent client sessions
// and streams their output into the page as script blocks.
type Console struct {
	out     io.Writer
	mu      sync.Mutex // script blocks from concurrent sessions stay whole
	dialer  proxy.Dialer
	testDir string
	log     *slog.Logger
}

func New(out io.Writer, dialer proxy.Dialer, testDir string, logger *slog.Logger) *Console {
	return &Console{out: out, dialer: dialer, testDir: testDir, log: logger}
}

func (c *Console) Run(cfg *Config) {
	c.writeDocument(cfg.Targets)

	var g errgroup.Group
	for _, t := range cfg.Targets {
		g.Go(func() error { return c.runTarget(t) })
	}
	if err := g.Wait(); err != nil {
		c.log.Error("console session failed", "error", err)
	}
}

// runTarget connects to one remote shell and plays its testcase: every
// time the output carries the shell prompt marker '%', the next line is
// sent. The session ends when the remote closes or the script runs dry.
func (c *Console) runTarget(t Target) error {
	lines, err := readTestcase(filepath.Join(c.testDir, t.TestFile))
	if err != nil {
		return err
	}

	conn, err := c.dialer.Dial("tcp", net.JoinHostPort(t.Host, t.Port))
	if err != nil {
		return errors.Wrapf(err, "connect %s", t.ID)
	}
	defer conn.Close()

	buf := make([]byte, domain.MaxSegment)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			c.writeShell(t.ID, data)
			if strings.Contains(data, "%") {
				if len(lines) == 0 {
					return nil
				}
				line := lines[0]
				lines = lines[1:]
				c.writeCommand(t.ID, line)
				if _, err := conn.Write([]byte(line)); err != nil {
					return errors.Wrapf(err, "write %s", t.ID)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrapf(err, "read %s", t.ID)
		}
	}
}

func readTestcase(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open testcase")
	}
	defer file.Close()

	var lines []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		lines = append(lines, sc.Text()+"\n")
	}
	return lines, errors.Wrap(sc.Err(), "read testcase")
}
