// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package threatfeed

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

// parsedRule is one entry extracted from a feed body. Block rules carry no
// target; redirect rules do.
type parsedRule struct {
	Domain string
	Action model.RPZAction
	Target string
}

// parse dispatches on the feed format and returns normalized, deduplicated
// rules.
func parse(format model.FeedFormat, rpzZone string, body []byte) ([]parsedRule, error) {
	var rules []parsedRule
	var err error
	switch format {
	case model.FormatHosts:
		rules = parseHosts(body)
	case model.FormatDomains:
		rules = parseDomains(body)
	case model.FormatRPZ:
		rules, err = parseRPZ(rpzZone, body)
	default:
		return nil, errors.Errorf(errors.KindFeedParse, "unknown feed format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return dedupe(rules), nil
}

// parseHosts reads "IP DOMAIN" lines. The IP column is noise: hosts-format
// blocklists point everything at 0.0.0.0 or 127.0.0.1.
func parseHosts(body []byte) []parsedRule {
	var rules []parsedRule
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := stripComment(sc.Text())
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, domain := range fields[1:] {
			rules = append(rules, parsedRule{Domain: domain, Action: model.RPZBlock})
		}
	}
	return rules
}

// parseDomains reads one domain per line.
func parseDomains(body []byte) []parsedRule {
	var rules []parsedRule
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := stripComment(sc.Text())
		domain := strings.TrimSpace(line)
		if domain == "" {
			continue
		}
		rules = append(rules, parsedRule{Domain: domain, Action: model.RPZBlock})
	}
	return rules
}

// parseRPZ reads native response-policy zone files. Owner names are
// relative to the policy zone; the CNAME target selects the action.
func parseRPZ(rpzZone string, body []byte) ([]parsedRule, error) {
	origin := dns.Fqdn(rpzZone)
	zp := dns.NewZoneParser(bytes.NewReader(body), origin, "")
	zp.SetDefaultTTL(300)

	var rules []parsedRule
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		cname, isCNAME := rr.(*dns.CNAME)
		if !isCNAME {
			// SOA/NS scaffolding and non-CNAME policies (A-record rewrites)
			// are skipped; only CNAME policies map onto our rule model.
			continue
		}
		owner := strings.TrimSuffix(rr.Header().Name, origin)
		owner = strings.TrimSuffix(owner, ".")
		if owner == "" || owner == "@" {
			continue
		}

		rule := parsedRule{Domain: owner}
		switch cname.Target {
		case ".":
			rule.Action = model.RPZBlock
		case "rpz-passthru.":
			rule.Action = model.RPZPassthru
		default:
			rule.Action = model.RPZRedirect
			rule.Target = strings.TrimSuffix(cname.Target, ".")
		}
		rules = append(rules, rule)
	}
	if err := zp.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindFeedParse, "parsing rpz zone data")
	}
	return rules, nil
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, "#;"); i >= 0 {
		line = line[:i]
	}
	return line
}

// dedupe normalizes domains, drops invalid ones, keeps first occurrence.
func dedupe(rules []parsedRule) []parsedRule {
	seen := make(map[string]bool, len(rules))
	out := rules[:0]
	for _, r := range rules {
		r.Domain = model.NormalizeDomain(r.Domain)
		if r.Domain == "" || seen[r.Domain] {
			continue
		}
		if !model.IsValidDomain(r.Domain, true) {
			continue
		}
		seen[r.Domain] = true
		out = append(out, r)
	}
	return out
}
