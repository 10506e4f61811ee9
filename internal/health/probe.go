// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package health

import (
	"context"
	"time"

	"github.com/miekg/dns"
	probing "github.com/prometheus-community/pro-bing"
)

// QueryFunc issues one DNS A query for the probe name against addr
// (ip:port) and returns the round-trip time. Overridable in tests.
var QueryFunc = func(ctx context.Context, addr, probeName string, timeout time.Duration) (time.Duration, error) {
	client := &dns.Client{Timeout: timeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(probeName), dns.TypeA)
	msg.RecursionDesired = true

	_, rtt, err := client.ExchangeContext(ctx, msg, addr)
	if err != nil {
		return 0, err
	}
	// NXDOMAIN is still a healthy answer: the server responded. Only
	// transport failures count against it.
	return rtt, nil
}

// PingFunc classifies a failed DNS probe: reachable host with a dead DNS
// service versus an unreachable host. Overridable in tests; requires
// privileged sockets in production, so failures degrade to "unknown".
var PingFunc = func(ctx context.Context, host string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false
	}
	pinger.SetPrivileged(true)
	pinger.Count = 1
	pinger.Timeout = timeout
	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// Prober binds the probe name, yielding the one-shot probe signature the
// DNS service uses for TestForwarder.
func Prober(probeName string) func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	return func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
		return QueryFunc(ctx, addr, probeName, timeout)
	}
}

// classifyFailure names the failure mode for sample error strings and
// alert payloads.
func classifyFailure(ctx context.Context, host string, timeout time.Duration, queryErr error) string {
	if PingFunc(ctx, host, timeout) {
		return "dns_unresponsive: " + queryErr.Error()
	}
	return "host_unreachable: " + queryErr.Error()
}
