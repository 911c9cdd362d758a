package relay

import (
	"fmt"

	"github.com/miekg/dns"
)

// ResolveRelayEndpoints discovers relay servers for a domain via DNS SRV
// records (e.g. _lockbox-relay._tcp.example.com). It returns host:port
// endpoints in answer order; callers pick one and fall through on
// connection failure.
func ResolveRelayEndpoints(domain string) ([]string, error) {
	return resolveSRV(domain, "127.0.0.53:53")
}

func resolveSRV(domain, resolver string) ([]string, error) {
	m1 := new(dns.Msg)
	m1.Id = dns.Id()
	m1.RecursionDesired = true
	m1.Question = make([]dns.Question, 1)
	m1.Question[0] = dns.Question{Name: dns.Fqdn(domain), Qtype: dns.TypeSRV, Qclass: dns.ClassINET}

	c := new(dns.Client)
	in, _, err := c.Exchange(m1, resolver)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup for %s failed: %w", domain, err)
	}

	endpoints := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			endpoints = append(endpoints, fmt.Sprintf("%s:%d", srv.Target, srv.Port))
		}
	}

	return endpoints, nil
}
