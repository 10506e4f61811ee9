// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package render

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"grimm.is/bindctl/internal/model"
)

// renderRPZ produces one zone file per active policy zone plus the
// response-policy configuration fragment.
//
// When the same domain appears in several policy zones only one copy is
// rendered: manual rules beat feed rules, then the zone with the lowest
// priority value wins. Stored rows are never touched by this resolution.
func renderRPZ(zones []model.RPZZone, rules []*model.RPZRule) (map[string][]byte, []byte, error) {
	prio := map[string]int{}
	for _, z := range zones {
		prio[z.Name] = z.Priority
	}

	type winner struct {
		rule     *model.RPZRule
		priority int
	}
	winners := map[string]winner{}
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		p, ok := prio[r.RPZZone]
		if !ok {
			p = 100
		}
		cur, exists := winners[r.Domain]
		if !exists || beats(r, p, cur.rule, cur.priority) {
			winners[r.Domain] = winner{rule: r, priority: p}
		}
	}

	byZone := map[string][]*model.RPZRule{}
	for _, w := range winners {
		byZone[w.rule.RPZZone] = append(byZone[w.rule.RPZZone], w.rule)
	}

	files := map[string][]byte{}
	var activeZones []string
	for _, z := range zones {
		zoneRules := byZone[z.Name]
		if len(zoneRules) == 0 {
			continue
		}
		sort.Slice(zoneRules, func(i, j int) bool { return zoneRules[i].Domain < zoneRules[j].Domain })
		files[z.Name] = renderRPZFile(z.Name, zoneRules)
		activeZones = append(activeZones, z.Name)
	}

	var b strings.Builder
	b.WriteString("// Generated by bindctl. Response policy zone ordering follows priority.\n")
	b.WriteString("response-policy {\n")
	for _, name := range activeZones {
		fmt.Fprintf(&b, "\tzone %q;\n", name)
	}
	b.WriteString("} qname-wait-recurse no;\n")

	return files, []byte(b.String()), nil
}

// beats reports whether candidate should replace current for one domain.
func beats(cand *model.RPZRule, candPrio int, cur *model.RPZRule, curPrio int) bool {
	candManual := cand.Source == model.SourceManual
	curManual := cur.Source == model.SourceManual
	if candManual != curManual {
		return candManual
	}
	if candPrio != curPrio {
		return candPrio < curPrio
	}
	return cand.RPZZone < cur.RPZZone
}

func renderRPZFile(zone string, rules []*model.RPZRule) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "$TTL 300\n")
	fmt.Fprintf(&b, "$ORIGIN %s.\n", zone)
	// The serial derives from content so secondaries notice every change;
	// reloads on the local server do not depend on it.
	fmt.Fprintf(&b, "@\tIN\tSOA\tlocalhost. root.localhost. ( %d 3600 900 604800 300 )\n", contentSerial(rules))
	fmt.Fprintf(&b, "@\tIN\tNS\tlocalhost.\n")

	for _, r := range rules {
		switch r.Action {
		case model.RPZBlock:
			fmt.Fprintf(&b, "%s\tCNAME\t.\n", r.Domain)
		case model.RPZRedirect:
			fmt.Fprintf(&b, "%s\tCNAME\t%s\n", r.Domain, fqdn(r.RedirectTarget))
		case model.RPZPassthru:
			fmt.Fprintf(&b, "%s\tCNAME\trpz-passthru.\n", r.Domain)
		}
	}
	return []byte(b.String())
}

func contentSerial(rules []*model.RPZRule) uint32 {
	h := fnv.New32a()
	for _, r := range rules {
		fmt.Fprintf(h, "%s|%s|%s\n", r.Domain, r.Action, r.RedirectTarget)
	}
	// Keep within the positive serial space.
	return h.Sum32() & 0x7fffffff
}
