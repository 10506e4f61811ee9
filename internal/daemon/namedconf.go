// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"grimm.is/bindctl/internal/errors"
)

// includeRe matches an uncommented BIND include statement.
var includeRe = regexp.MustCompile(`^\s*include\s+"([^"]+)"\s*;`)

// CheckNamedConf verifies that the operator-owned named.conf tree pulls in
// the generated zones.conf exactly once. Zero includes means our deploys
// never reach BIND; more than one means duplicate zone definitions and a
// failed named-checkconf at the worst possible time.
func CheckNamedConf(configDir string) error {
	candidates := []string{"named.conf", "named.conf.local", "named.conf.options"}

	found := 0
	scanned := 0
	for _, name := range candidates {
		path := filepath.Join(configDir, name)
		n, err := countZonesConfIncludes(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, errors.KindInternal, "reading %s", path)
		}
		scanned++
		found += n
	}

	if scanned == 0 {
		return errors.Errorf(errors.KindValidation,
			"no named.conf found under %s", configDir)
	}
	switch {
	case found == 0:
		return errors.Errorf(errors.KindValidation,
			`named.conf under %s does not include "zones.conf"; generated config would never load`, configDir)
	case found > 1:
		return errors.Errorf(errors.KindValidation,
			`"zones.conf" is included %d times under %s, expected exactly once`, found, configDir)
	}
	return nil
}

func countZonesConfIncludes(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		m := includeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if filepath.Base(m[1]) == "zones.conf" {
			count++
		}
	}
	return count, sc.Err()
}
