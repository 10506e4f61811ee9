// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"net"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/bindctl/internal/errors"
)

const maxTTL = 1<<31 - 1

// NormalizeDomain lowercases a domain and strips the trailing dot.
func NormalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

// IsValidDomain reports whether d is a DNS-legal domain. A single leading
// wildcard label is accepted when allowWildcard is set.
func IsValidDomain(d string, allowWildcard bool) bool {
	if d == "" {
		return false
	}
	if allowWildcard && strings.HasPrefix(d, "*.") {
		d = d[2:]
	}
	if strings.Contains(d, "*") {
		return false
	}
	_, ok := dns.IsDomainName(dns.Fqdn(d))
	if !ok {
		return false
	}
	// dns.IsDomainName accepts nearly any byte; restrict to hostname charset.
	for _, label := range strings.Split(d, ".") {
		if label == "" {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return false
			}
		}
	}
	return true
}

// Validate checks zone-level invariants.
func (z *Zone) Validate() error {
	name := NormalizeDomain(z.Name)
	if !IsValidDomain(name, false) {
		return errors.Errorf(errors.KindValidation, "invalid zone name %q", z.Name)
	}
	switch z.Type {
	case ZoneMaster:
		if z.Email == "" {
			return errors.New(errors.KindValidation, "master zone requires an SOA email")
		}
		if z.Refresh <= 0 || z.Retry <= 0 || z.Expire <= 0 || z.Minimum < 0 {
			return errors.New(errors.KindValidation, "master zone requires positive SOA timers")
		}
	case ZoneSlave:
		if len(z.Masters) == 0 {
			return errors.New(errors.KindValidation, "slave zone requires at least one master")
		}
		for _, m := range z.Masters {
			if net.ParseIP(m) == nil {
				return errors.Errorf(errors.KindValidation, "invalid master address %q", m)
			}
		}
	case ZoneForward:
		if len(z.Forwarders) == 0 {
			return errors.New(errors.KindValidation, "forward zone requires at least one forwarder address")
		}
		for _, f := range z.Forwarders {
			if net.ParseIP(f) == nil {
				return errors.Errorf(errors.KindValidation, "invalid forwarder address %q", f)
			}
		}
	default:
		return errors.Errorf(errors.KindValidation, "unknown zone type %q", z.Type)
	}
	return nil
}

// Validate checks record-level invariants. Zone-relative context (CNAME
// exclusion, duplicates) is enforced by the service, not here.
func (r *Record) Validate() error {
	if r.TTL < 0 || r.TTL > maxTTL {
		return errors.Errorf(errors.KindValidation, "ttl out of range: %d", r.TTL)
	}
	if r.Name == "" {
		return errors.New(errors.KindValidation, "record name is required")
	}
	if r.Name != "@" && !IsValidDomain(NormalizeDomain(r.Name), true) {
		return errors.Errorf(errors.KindValidation, "invalid record name %q", r.Name)
	}

	switch r.Type {
	case TypeA:
		ip := net.ParseIP(r.Value)
		if ip == nil || ip.To4() == nil {
			return errors.Errorf(errors.KindValidation, "invalid IPv4 address %q", r.Value)
		}
	case TypeAAAA:
		ip := net.ParseIP(r.Value)
		if ip == nil || ip.To4() != nil {
			return errors.Errorf(errors.KindValidation, "invalid IPv6 address %q", r.Value)
		}
	case TypeCNAME, TypeNS, TypePTR:
		if !IsValidDomain(NormalizeDomain(r.Value), false) {
			return errors.Errorf(errors.KindValidation, "invalid target %q for %s record", r.Value, r.Type)
		}
	case TypeMX:
		if !IsValidDomain(NormalizeDomain(r.Value), false) {
			return errors.Errorf(errors.KindValidation, "invalid MX target %q", r.Value)
		}
		if r.Priority < 0 || r.Priority > 65535 {
			return errors.Errorf(errors.KindValidation, "MX priority out of range: %d", r.Priority)
		}
	case TypeSRV:
		if !IsValidDomain(NormalizeDomain(r.Value), false) {
			return errors.Errorf(errors.KindValidation, "invalid SRV target %q", r.Value)
		}
		if r.Port <= 0 || r.Port > 65535 {
			return errors.Errorf(errors.KindValidation, "SRV port out of range: %d", r.Port)
		}
		if r.Priority < 0 || r.Priority > 65535 || r.Weight < 0 || r.Weight > 65535 {
			return errors.New(errors.KindValidation, "SRV priority/weight out of range")
		}
	case TypeTXT:
		if r.Value == "" {
			return errors.New(errors.KindValidation, "TXT record requires a value")
		}
	case TypeSOA:
		return errors.New(errors.KindValidation, "SOA records are derived from zone fields")
	default:
		return errors.Errorf(errors.KindValidation, "unsupported record type %q", r.Type)
	}
	return nil
}

// Validate checks forwarder-level invariants.
func (f *Forwarder) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New(errors.KindValidation, "forwarder name is required")
	}
	if !IsValidDomain(NormalizeDomain(f.Domain), false) {
		return errors.Errorf(errors.KindValidation, "invalid forwarder domain %q", f.Domain)
	}
	for _, d := range f.AdditionalDomains {
		if !IsValidDomain(NormalizeDomain(d), false) {
			return errors.Errorf(errors.KindValidation, "invalid additional domain %q", d)
		}
	}
	switch f.Type {
	case ForwarderActiveDirectory, ForwarderIntranet, ForwarderPublic:
	default:
		return errors.Errorf(errors.KindValidation, "unknown forwarder type %q", f.Type)
	}
	switch f.ForwardPolicy {
	case ForwardFirst, ForwardOnly:
	default:
		return errors.Errorf(errors.KindValidation, "unknown forward policy %q", f.ForwardPolicy)
	}
	if len(f.Servers) == 0 {
		return errors.New(errors.KindValidation, "forwarder requires at least one server")
	}
	for _, s := range f.Servers {
		if net.ParseIP(s.IP) == nil {
			return errors.Errorf(errors.KindValidation, "invalid server address %q", s.IP)
		}
		if s.Port < 0 || s.Port > 65535 {
			return errors.Errorf(errors.KindValidation, "server port out of range: %d", s.Port)
		}
	}
	if f.Priority < 1 || f.Priority > 100 {
		return errors.Errorf(errors.KindValidation, "forwarder priority out of range: %d", f.Priority)
	}
	if f.Weight < 1 || f.Weight > 1000 {
		return errors.Errorf(errors.KindValidation, "forwarder weight out of range: %d", f.Weight)
	}
	hc := f.HealthCheck
	if hc.Enabled {
		if hc.IntervalS < 30 || hc.IntervalS > 3600 {
			return errors.Errorf(errors.KindValidation, "health check interval out of range: %d", hc.IntervalS)
		}
		if hc.TimeoutS < 1 || hc.TimeoutS > 30 {
			return errors.Errorf(errors.KindValidation, "health check timeout out of range: %d", hc.TimeoutS)
		}
		if hc.Retries < 1 || hc.Retries > 10 {
			return errors.Errorf(errors.KindValidation, "health check retries out of range: %d", hc.Retries)
		}
	}
	return nil
}

// Validate checks RPZ rule invariants.
func (r *RPZRule) Validate() error {
	if r.RPZZone == "" {
		return errors.New(errors.KindValidation, "rpz rule requires a policy zone")
	}
	if !IsValidDomain(NormalizeDomain(r.Domain), true) {
		return errors.Errorf(errors.KindValidation, "invalid rpz domain %q", r.Domain)
	}
	switch r.Action {
	case RPZBlock, RPZPassthru:
		if r.RedirectTarget != "" {
			return errors.Errorf(errors.KindValidation, "redirect target is only valid for redirect rules")
		}
	case RPZRedirect:
		if !IsValidDomain(NormalizeDomain(r.RedirectTarget), false) {
			return errors.Errorf(errors.KindValidation, "invalid redirect target %q", r.RedirectTarget)
		}
	default:
		return errors.Errorf(errors.KindValidation, "unknown rpz action %q", r.Action)
	}
	return nil
}

// Validate checks feed configuration invariants.
func (f *ThreatFeed) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New(errors.KindValidation, "feed name is required")
	}
	if !strings.HasPrefix(f.URL, "http://") && !strings.HasPrefix(f.URL, "https://") {
		return errors.Errorf(errors.KindValidation, "invalid feed url %q", f.URL)
	}
	switch f.Format {
	case FormatHosts, FormatDomains, FormatRPZ:
	default:
		return errors.Errorf(errors.KindValidation, "unknown feed format %q", f.Format)
	}
	if f.RPZZone == "" {
		return errors.New(errors.KindValidation, "feed requires an rpz zone")
	}
	if f.UpdateFrequencyS < 60 {
		return errors.Errorf(errors.KindValidation, "update frequency too low: %d", f.UpdateFrequencyS)
	}
	return nil
}
