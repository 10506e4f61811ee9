// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bind

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/bindctl/internal/render"
)

// DiffFiles renders a unified diff between two file sets for audit entries
// and deploy events. Unchanged files are skipped.
func DiffFiles(old, new render.Files) string {
	paths := map[string]bool{}
	for p := range old {
		paths[p] = true
	}
	for p := range new {
		paths[p] = true
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var b strings.Builder
	for _, p := range sorted {
		o, n := string(old[p]), string(new[p])
		if o == n {
			continue
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(o),
			B:        difflib.SplitLines(n),
			FromFile: "a/" + p,
			ToFile:   "b/" + p,
			Context:  3,
		})
		if err != nil {
			continue
		}
		b.WriteString(text)
	}
	return b.String()
}
