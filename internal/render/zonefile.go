// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package render

import (
	"fmt"
	"strings"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

// renderZoneFile emits an RFC 1035 master file for one master zone.
// Records arrive sorted (name, type, value) from the store; the SOA is
// derived from zone fields and NS records default to ns1.<zone> with
// localhost glue when the operator defined none.
func renderZoneFile(z *model.Zone, records []*model.Record) ([]byte, error) {
	if err := checkCNAMEExclusion(z, records); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "$TTL %d\n", z.Minimum)
	fmt.Fprintf(&b, "$ORIGIN %s.\n", z.Name)

	primaryNS := zonePrimaryNS(z, records)
	fmt.Fprintf(&b, "@\tIN\tSOA\t%s %s. (\n", primaryNS, rname(z.Email))
	fmt.Fprintf(&b, "\t\t%d\t; serial\n", z.Serial)
	fmt.Fprintf(&b, "\t\t%d\t; refresh\n", z.Refresh)
	fmt.Fprintf(&b, "\t\t%d\t; retry\n", z.Retry)
	fmt.Fprintf(&b, "\t\t%d\t; expire\n", z.Expire)
	fmt.Fprintf(&b, "\t\t%d )\t; minimum\n", z.Minimum)

	hasNS := false
	for _, r := range records {
		if r.IsActive && r.Type == model.TypeNS && (r.Name == "@" || r.Name == "") {
			hasNS = true
		}
	}
	if !hasNS {
		fmt.Fprintf(&b, "@\tIN\tNS\t%s\n", primaryNS)
		fmt.Fprintf(&b, "ns1\tIN\tA\t127.0.0.1\n")
	}

	for _, r := range records {
		if !r.IsActive {
			continue
		}
		line, err := recordLine(r)
		if err != nil {
			return nil, err
		}
		b.WriteString(line)
	}

	return []byte(b.String()), nil
}

// zonePrimaryNS returns the FQDN of the primary name server for the SOA
// MNAME field.
func zonePrimaryNS(z *model.Zone, records []*model.Record) string {
	for _, r := range records {
		if r.IsActive && r.Type == model.TypeNS && (r.Name == "@" || r.Name == "") {
			return fqdn(r.Value)
		}
	}
	return "ns1." + z.Name + "."
}

// rname converts the stored email to SOA RNAME form. The model stores it
// already dotted (admin.example.com); an @ form is converted defensively.
func rname(email string) string {
	return strings.Replace(email, "@", ".", 1)
}

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

func recordLine(r *model.Record) (string, error) {
	ttl := ""
	if r.TTL > 0 {
		ttl = fmt.Sprintf("%d\t", r.TTL)
	}
	name := r.Name
	if name == "" {
		name = "@"
	}

	switch r.Type {
	case model.TypeA, model.TypeAAAA:
		return fmt.Sprintf("%s\t%sIN\t%s\t%s\n", name, ttl, r.Type, r.Value), nil
	case model.TypeCNAME, model.TypeNS, model.TypePTR:
		return fmt.Sprintf("%s\t%sIN\t%s\t%s\n", name, ttl, r.Type, fqdn(r.Value)), nil
	case model.TypeMX:
		return fmt.Sprintf("%s\t%sIN\tMX\t%d %s\n", name, ttl, r.Priority, fqdn(r.Value)), nil
	case model.TypeSRV:
		return fmt.Sprintf("%s\t%sIN\tSRV\t%d %d %d %s\n", name, ttl, r.Priority, r.Weight, r.Port, fqdn(r.Value)), nil
	case model.TypeTXT:
		return fmt.Sprintf("%s\t%sIN\tTXT\t%q\n", name, ttl, r.Value), nil
	default:
		return "", errors.Attr(
			errors.Errorf(errors.KindValidation, "unsupported record type %q at %s", r.Type, name),
			"kind", "unsupported_record")
	}
}

// checkCNAMEExclusion re-validates the classical CNAME rule at render time.
// The service enforces it on write; a violation here means the database was
// modified out of band and must never reach disk.
func checkCNAMEExclusion(z *model.Zone, records []*model.Record) error {
	cnames := map[string]bool{}
	others := map[string]bool{}
	for _, r := range records {
		if !r.IsActive {
			continue
		}
		if r.Type == model.TypeCNAME {
			cnames[r.Name] = true
		} else {
			others[r.Name] = true
		}
	}
	for name := range cnames {
		if others[name] {
			return errors.Attr(
				errors.Errorf(errors.KindValidation, "CNAME conflict at %s in zone %s", name, z.Name),
				"kind", "invariant_violation")
		}
	}
	return nil
}
