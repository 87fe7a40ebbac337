package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/raysh454/fatt/internal/logging"
)

const resolvConf = "/etc/resolv.conf"

// DNSLookuper queries A then AAAA records directly against nameservers.
type DNSLookuper struct {
	client  *dns.Client
	servers []string
}

// NewDNSLookuper uses nameservers, or the servers from /etc/resolv.conf when
// nameservers is empty.
func NewDNSLookuper(nameservers []string, timeout time.Duration) (*DNSLookuper, error) {
	servers := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		servers = append(servers, withPort(ns, "53"))
	}
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", resolvConf, err)
		}
		for _, s := range conf.Servers {
			servers = append(servers, withPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("no nameservers configured")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSLookuper{
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		servers: servers,
	}, nil
}

func withPort(server, port string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(server, port)
}

// LookupHost returns the A records for host, or its AAAA records when it has
// no A records. IP literals are returned as-is.
func (l *DNSLookuper) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := l.query(ctx, host, qtype)
		if len(addrs) > 0 {
			return addrs, nil
		}
		if err != nil {
			lastErr = err
			var rerr *rcodeError
			if errors.As(err, &rerr) && rerr.code == dns.RcodeNameError {
				return nil, err
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s: %w", host, ErrNoAddresses)
}

type rcodeError struct {
	host string
	code int
}

func (e *rcodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.host, dns.RcodeToString[e.code])
}

func (l *DNSLookuper) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range l.servers {
		in, _, err := l.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = fmt.Errorf("query %s: %w", server, err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = &rcodeError{host: host, code: in.Rcode}
			if in.Rcode == dns.RcodeNameError {
				return nil, lastErr
			}
			continue
		}

		var addrs []string
		for _, rr := range in.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				addrs = append(addrs, rec.A.String())
			case *dns.AAAA:
				addrs = append(addrs, rec.AAAA.String())
			}
		}
		return addrs, nil
	}
	return nil, lastErr
}

// SystemLookuper resolves through the Go system resolver.
type SystemLookuper struct {
	Resolver *net.Resolver
}

func (s SystemLookuper) LookupHost(ctx context.Context, host string) ([]string, error) {
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	return r.LookupHost(ctx, host)
}

// DefaultLookuper returns a DNSLookuper for cfg, falling back to the system
// resolver when no nameserver configuration is available.
func DefaultLookuper(cfg Config, logger logging.Logger) Lookuper {
	l, err := NewDNSLookuper(cfg.Nameservers, cfg.Timeout)
	if err != nil {
		if logger != nil {
			logger.Warn("falling back to system resolver", logging.Field{Key: "error", Value: err})
		}
		return SystemLookuper{}
	}
	return l
}
