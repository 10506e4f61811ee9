// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package render turns a model snapshot into the BIND9 configuration
// fragments and zone files the daemon deploys. Rendering is a pure function:
// equal snapshots produce byte-identical files, which is what makes
// content-hash comparison and no-change deploy short-circuits sound.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

// Snapshot is the eagerly loaded model state the renderer consumes. The
// caller assembles it inside one store transaction so it is consistent.
type Snapshot struct {
	Zones         []*model.Zone
	RecordsByZone map[int64][]*model.Record
	Forwarders    []*model.Forwarder
	RPZZones      []model.RPZZone
	RPZRules      []*model.RPZRule
}

// Files maps a path relative to the BIND config dir to rendered content.
type Files map[string][]byte

// Render produces all managed files from the snapshot.
func Render(snap *Snapshot) (Files, error) {
	files := Files{}

	zonesConf, err := renderZonesConf(snap)
	if err != nil {
		return nil, err
	}
	files["zones.conf"] = zonesConf

	files["forwarders.conf"] = renderForwardersConf(snap.Forwarders)

	for _, z := range snap.Zones {
		if z.Type != model.ZoneMaster || !z.IsActive {
			continue
		}
		content, err := renderZoneFile(z, snap.RecordsByZone[z.ID])
		if err != nil {
			return nil, err
		}
		files["zones/db."+z.Name] = content
	}

	rpzFiles, policy, err := renderRPZ(snap.RPZZones, snap.RPZRules)
	if err != nil {
		return nil, err
	}
	for name, content := range rpzFiles {
		files["rpz/db."+name] = content
	}
	files["rpz-policy.conf"] = policy

	return files, nil
}

// Hash returns a stable content hash over all files, independent of map
// iteration order.
func (f Files) Hash() string {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		fmt.Fprintf(h, "%s\n%d\n", p, len(f[p]))
		h.Write(f[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}

const (
	managedBegin = "// BEGIN bindctl managed zones - do not edit by hand"
	managedEnd   = "// END bindctl managed zones"
)

func renderZonesConf(snap *Snapshot) ([]byte, error) {
	var b strings.Builder
	b.WriteString(managedBegin + "\n")

	for _, z := range snap.Zones {
		if !z.IsActive {
			continue
		}
		switch z.Type {
		case model.ZoneMaster:
			fmt.Fprintf(&b, "zone %q {\n\ttype master;\n\tfile \"/etc/bind/zones/db.%s\";\n};\n", z.Name, z.Name)
		case model.ZoneSlave:
			masters := make([]string, len(z.Masters))
			copy(masters, z.Masters)
			sort.Strings(masters)
			fmt.Fprintf(&b, "zone %q {\n\ttype slave;\n\tmasters { %s; };\n\tfile \"/etc/bind/zones/db.%s\";\n};\n",
				z.Name, strings.Join(masters, "; "), z.Name)
		case model.ZoneForward:
			fwd := make([]string, len(z.Forwarders))
			copy(fwd, z.Forwarders)
			sort.Strings(fwd)
			fmt.Fprintf(&b, "zone %q {\n\ttype forward;\n\tforward only;\n\tforwarders { %s; };\n};\n",
				z.Name, strings.Join(fwd, "; "))
		default:
			return nil, errors.Errorf(errors.KindValidation, "cannot render zone type %q", z.Type)
		}
	}

	b.WriteString(managedEnd + "\n")
	return []byte(b.String()), nil
}

func renderForwardersConf(forwarders []*model.Forwarder) []byte {
	var b strings.Builder
	b.WriteString("// Generated by bindctl. Conditional forwarding per domain.\n")

	// Store order is priority then name; keep it.
	for _, f := range forwarders {
		if !f.IsActive {
			continue
		}
		var servers []string
		for _, srv := range f.Servers {
			if !srv.Enabled {
				continue
			}
			port := srv.Port
			if port == 0 {
				port = 53
			}
			servers = append(servers, fmt.Sprintf("%s port %d", srv.IP, port))
		}
		if len(servers) == 0 {
			continue
		}

		domains := append([]string{f.Domain}, f.AdditionalDomains...)
		for i := range domains {
			domains[i] = model.NormalizeDomain(domains[i])
		}
		sort.Strings(domains)

		fmt.Fprintf(&b, "\n// forwarder: %s (%s)\n", f.Name, f.Type)
		for _, d := range domains {
			fmt.Fprintf(&b, "zone %q {\n\ttype forward;\n\tforward %s;\n\tforwarders { %s; };\n};\n",
				d, f.ForwardPolicy, strings.Join(servers, "; "))
		}
	}
	return []byte(b.String())
}
