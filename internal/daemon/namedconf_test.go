// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bindctl/internal/errors"
)

func writeNamedConf(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCheckNamedConfAcceptsSingleInclude(t *testing.T) {
	dir := t.TempDir()
	writeNamedConf(t, dir, "named.conf", `
options { directory "/var/cache/bind"; };
include "/etc/bind/zones.conf";
include "/etc/bind/named.conf.default-zones";
`)
	assert.NoError(t, CheckNamedConf(dir))
}

func TestCheckNamedConfRejectsMissingInclude(t *testing.T) {
	dir := t.TempDir()
	writeNamedConf(t, dir, "named.conf", `options { directory "/var/cache/bind"; };`)

	err := CheckNamedConf(dir)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Contains(t, err.Error(), "does not include")
}

func TestCheckNamedConfRejectsDuplicateIncludes(t *testing.T) {
	dir := t.TempDir()
	writeNamedConf(t, dir, "named.conf", `include "/etc/bind/zones.conf";`)
	writeNamedConf(t, dir, "named.conf.local", `include "zones.conf";`)

	err := CheckNamedConf(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 times")
}

func TestCheckNamedConfIgnoresComments(t *testing.T) {
	dir := t.TempDir()
	writeNamedConf(t, dir, "named.conf", `
// include "/etc/bind/zones.conf";
# include "/etc/bind/zones.conf";
include "/etc/bind/zones.conf";
`)
	assert.NoError(t, CheckNamedConf(dir))
}

func TestCheckNamedConfRequiresNamedConf(t *testing.T) {
	err := CheckNamedConf(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no named.conf")
}
