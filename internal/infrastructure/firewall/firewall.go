package firewall

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"socks-proxy/internal/domain"
)

// DefaultPath is the contract location of the rule file.
const DefaultPath = "./socks.conf"

// wildcard marks a '*' position in a pattern; real octets are 0-255.
const wildcard = 256

type rule struct {
	command byte
	pattern [4]int
}

func (r rule) match(ip net.IP) bool {
	for i := 0; i < 4; i++ {
		if r.pattern[i] == wildcard {
			continue
		}
		if int(ip[i]) != r.pattern[i] {
			return false
		}
	}
	return true
}

// Firewall evaluates SOCKS commands against the ordered permit rules in a
// configuration file. The file is re-read on every evaluation so each
// session sees the rules as they stand at its start; a missing file or a
// malformed line denies the request and only that request.
type Firewall struct {
	Path string
}

func New(path string) *Firewall {
	if path == "" {
		path = DefaultPath
	}
	return &Firewall{Path: path}
}

// Allow walks the rules for cmd in file order and grants on the first one
// whose pattern matches ip. No matching rule means deny.
func (f *Firewall) Allow(cmd byte, ip net.IP) bool {
	rules, err := load(f.Path)
	if err != nil {
		return false
	}
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	for _, r := range rules {
		if r.command != cmd {
			continue
		}
		if r.match(v4) {
			return true
		}
	}
	return false
}

func load(path string) ([]rule, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open firewall config")
	}
	defer file.Close()

	var rules []rule
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := parseRule(line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read firewall config")
	}
	return rules, nil
}

func parseRule(line string) (rule, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "permit" {
		return rule{}, errors.Errorf("malformed rule %q", line)
	}

	var r rule
	switch fields[1] {
	case "c":
		r.command = domain.CmdConnect
	case "b":
		r.command = domain.CmdBind
	default:
		return rule{}, errors.Errorf("unknown command %q in rule %q", fields[1], line)
	}

	octets := strings.Split(fields[2], ".")
	if len(octets) != 4 {
		return rule{}, errors.Errorf("malformed pattern %q", fields[2])
	}
	for i, o := range octets {
		if o == "*" {
			r.pattern[i] = wildcard
			continue
		}
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 {
			return rule{}, errors.Errorf("bad octet %q in pattern %q", o, fields[2])
		}
		r.pattern[i] = n
	}
	return r, nil
}
