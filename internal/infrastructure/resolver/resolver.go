package resolver

import (
	"context"
	"net"

	"github.com/miekg/dns"
	"github.com/pkg/errors"

	"socks-proxy/internal/domain"
)

// Resolver answers A queries through the system's first configured
// nameserver and returns the first address of the result set. Literal
// dotted-quad hosts are answered without a query.
type Resolver struct {
	server string // nameserver host:port
	client *dns.Client
}

func New() (*Resolver, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, errors.Wrap(err, "load resolver config")
	}
	if len(conf.Servers) == 0 {
		return nil, errors.New("no nameservers configured")
	}
	return NewWithServer(net.JoinHostPort(conf.Servers[0], conf.Port)), nil
}

// NewWithServer builds a resolver against a specific nameserver.
func NewWithServer(server string) *Resolver {
	return &Resolver{server: server, client: new(dns.Client)}
}

func (r *Resolver) Resolve(ctx context.Context, host string, port uint16) (domain.Endpoint, error) {
	if ip := net.ParseIP(host); ip != nil {
		v4 := ip.To4()
		if v4 == nil {
			return domain.Endpoint{}, errors.Errorf("%s is not an IPv4 address", host)
		}
		return domain.Endpoint{IP: v4, Port: port}, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return domain.Endpoint{}, errors.Wrapf(err, "resolve %s", host)
	}
	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			return domain.Endpoint{IP: a.A.To4(), Port: port}, nil
		}
	}
	return domain.Endpoint{}, errors.Errorf("no A records for %s", host)
}
