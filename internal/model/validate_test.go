// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/bindctl/internal/errors"
)

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeDomain(" Example.COM. "))
	assert.Equal(t, "example.com", NormalizeDomain("example.com"))
	assert.Equal(t, "", NormalizeDomain("."))
}

func TestIsValidDomain(t *testing.T) {
	assert.True(t, IsValidDomain("example.com", false))
	assert.True(t, IsValidDomain("a-b.example.com", false))
	assert.True(t, IsValidDomain("_dmarc.example.com", false))
	assert.True(t, IsValidDomain("*.example.com", true))

	assert.False(t, IsValidDomain("*.example.com", false))
	assert.False(t, IsValidDomain("foo.*.example.com", true))
	assert.False(t, IsValidDomain("-bad.example.com", false))
	assert.False(t, IsValidDomain("bad-.example.com", false))
	assert.False(t, IsValidDomain("exa mple.com", false))
	assert.False(t, IsValidDomain("", false))
}

func TestZoneValidate(t *testing.T) {
	master := func() *Zone {
		return &Zone{
			Name: "example.com", Type: ZoneMaster, Email: "admin.example.com",
			Refresh: 3600, Retry: 900, Expire: 604800, Minimum: 300,
		}
	}

	assert.NoError(t, master().Validate())

	z := master()
	z.Email = ""
	err := z.Validate()
	assert.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	z = master()
	z.Retry = 0
	assert.Error(t, z.Validate())

	slave := &Zone{Name: "example.org", Type: ZoneSlave, Masters: []string{"192.0.2.1"}}
	assert.NoError(t, slave.Validate())
	slave.Masters = []string{"not-an-ip"}
	assert.Error(t, slave.Validate())
	slave.Masters = nil
	assert.Error(t, slave.Validate())

	fwd := &Zone{Name: "corp.internal", Type: ZoneForward, Forwarders: []string{"10.0.0.53"}}
	assert.NoError(t, fwd.Validate())
	fwd.Forwarders = nil
	assert.Error(t, fwd.Validate())

	assert.Error(t, (&Zone{Name: "bad name", Type: ZoneMaster}).Validate())
	assert.Error(t, (&Zone{Name: "example.com", Type: "stealth"}).Validate())
}

func TestRecordValidate(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"a ok", Record{Name: "www", Type: TypeA, Value: "10.0.0.5", TTL: 300}, true},
		{"a apex", Record{Name: "@", Type: TypeA, Value: "10.0.0.5", TTL: 300}, true},
		{"a bad ip", Record{Name: "www", Type: TypeA, Value: "2001:db8::1", TTL: 300}, false},
		{"aaaa ok", Record{Name: "www", Type: TypeAAAA, Value: "2001:db8::1", TTL: 300}, true},
		{"aaaa v4", Record{Name: "www", Type: TypeAAAA, Value: "10.0.0.5", TTL: 300}, false},
		{"cname ok", Record{Name: "mail", Type: TypeCNAME, Value: "ghs.example.net", TTL: 300}, true},
		{"mx ok", Record{Name: "@", Type: TypeMX, Value: "mx1.example.com", Priority: 10, TTL: 300}, true},
		{"mx bad prio", Record{Name: "@", Type: TypeMX, Value: "mx1.example.com", Priority: 70000, TTL: 300}, false},
		{"srv ok", Record{Name: "_sip._tcp", Type: TypeSRV, Value: "sip.example.com", Priority: 10, Weight: 5, Port: 5060, TTL: 300}, true},
		{"srv no port", Record{Name: "_sip._tcp", Type: TypeSRV, Value: "sip.example.com", Priority: 10, TTL: 300}, false},
		{"txt ok", Record{Name: "@", Type: TypeTXT, Value: "v=spf1 -all", TTL: 300}, true},
		{"txt empty", Record{Name: "@", Type: TypeTXT, TTL: 300}, false},
		{"soa rejected", Record{Name: "@", Type: TypeSOA, Value: "x", TTL: 300}, false},
		{"ttl negative", Record{Name: "www", Type: TypeA, Value: "10.0.0.5", TTL: -1}, false},
		{"wildcard name", Record{Name: "*.apps", Type: TypeA, Value: "10.0.0.5", TTL: 300}, true},
		{"no name", Record{Type: TypeA, Value: "10.0.0.5", TTL: 300}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestForwarderValidate(t *testing.T) {
	valid := func() *Forwarder {
		return &Forwarder{
			Name: "corp", Domain: "corp.example.com",
			Type: ForwarderActiveDirectory, ForwardPolicy: ForwardFirst,
			Servers:  []ForwarderServer{{IP: "10.0.0.53", Port: 53, Enabled: true}},
			Priority: 10, Weight: 100,
			HealthCheck: HealthCheck{Enabled: true, IntervalS: 30, TimeoutS: 5, Retries: 2},
		}
	}

	assert.NoError(t, valid().Validate())

	f := valid()
	f.Servers = nil
	assert.Error(t, f.Validate())

	f = valid()
	f.Servers[0].IP = "nope"
	assert.Error(t, f.Validate())

	f = valid()
	f.HealthCheck.IntervalS = 5
	assert.Error(t, f.Validate(), "interval below 30s must be rejected")

	f = valid()
	f.HealthCheck.Enabled = false
	f.HealthCheck.IntervalS = 0
	assert.NoError(t, f.Validate(), "disabled health check skips range checks")

	f = valid()
	f.ForwardPolicy = "round-robin"
	assert.Error(t, f.Validate())

	f = valid()
	f.Priority = 0
	assert.Error(t, f.Validate())
}

func TestRPZRuleValidate(t *testing.T) {
	assert.NoError(t, (&RPZRule{RPZZone: "rpz.threat", Domain: "evil.test", Action: RPZBlock}).Validate())
	assert.NoError(t, (&RPZRule{RPZZone: "rpz.threat", Domain: "*.evil.test", Action: RPZPassthru}).Validate())
	assert.NoError(t, (&RPZRule{RPZZone: "rpz.threat", Domain: "ads.test", Action: RPZRedirect, RedirectTarget: "sinkhole.example.net"}).Validate())

	assert.Error(t, (&RPZRule{Domain: "evil.test", Action: RPZBlock}).Validate())
	assert.Error(t, (&RPZRule{RPZZone: "rpz.threat", Domain: "evil.test", Action: RPZBlock, RedirectTarget: "x.test"}).Validate())
	assert.Error(t, (&RPZRule{RPZZone: "rpz.threat", Domain: "ads.test", Action: RPZRedirect}).Validate())
	assert.Error(t, (&RPZRule{RPZZone: "rpz.threat", Domain: "evil.test", Action: "nxdomain"}).Validate())
}

func TestThreatFeedValidate(t *testing.T) {
	valid := func() *ThreatFeed {
		return &ThreatFeed{
			Name: "urlhaus", URL: "https://example.com/hosts.txt",
			Format: FormatHosts, RPZZone: "rpz.threat", UpdateFrequencyS: 3600,
		}
	}

	assert.NoError(t, valid().Validate())

	f := valid()
	f.URL = "ftp://example.com/hosts.txt"
	assert.Error(t, f.Validate())

	f = valid()
	f.Format = "csv"
	assert.Error(t, f.Validate())

	f = valid()
	f.UpdateFrequencyS = 30
	assert.Error(t, f.Validate(), "refresh more often than a minute is rejected")
}
