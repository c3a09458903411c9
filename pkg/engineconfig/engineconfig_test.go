package engineconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionHandlesPlainTriple(t *testing.T) {
	v := ParseVersion("2.4.3")
	assert.Equal(t, Version{2, 4, 3}, v)
}

func TestParseVersionStripsPatchSuffix(t *testing.T) {
	v := ParseVersion("2.4.3-unknown")
	assert.Equal(t, Version{2, 4, 3}, v)
}

func TestParseVersionMalformedYieldsZero(t *testing.T) {
	assert.Equal(t, Version{}, ParseVersion("not-a-version"))
	assert.Equal(t, Version{}, ParseVersion(""))
}

func TestVersionLessOrdersByMajorThenMinorThenPatch(t *testing.T) {
	assert.True(t, Version{2, 1, 0}.Less(Version{2, 2, 0}))
	assert.True(t, Version{1, 9, 9}.Less(Version{2, 0, 0}))
	assert.False(t, Version{2, 2, 0}.Less(Version{2, 1, 9}))
}

func TestEngineInfoSatisfiesEmptyReqVersionAlwaysPasses(t *testing.T) {
	e := EngineInfo{Version: "1.0.0"}
	assert.True(t, e.Satisfies())
}

func TestEngineInfoSatisfiesChecksFloor(t *testing.T) {
	e := EngineInfo{Version: "2.0.0", ReqVersion: "2.1.0"}
	assert.False(t, e.Satisfies())

	e.Version = "2.1.5"
	assert.True(t, e.Satisfies())
}

func TestParseVersionOutputExtractsLastFieldOfFirstLine(t *testing.T) {
	assert.Equal(t, "2.4.3", parseVersionOutput("gpg (GnuPG) 2.4.3\nlibgcrypt 1.10.2\n"))
}

func TestDiscoverMergesOverrideOverDefaults(t *testing.T) {
	dir := t.TempDir()
	content := []byte("openpgp:\n  homeDir: /custom/gnupghome\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engines.yml"), content, 0o644))

	cfg, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, "/custom/gnupghome", cfg.OpenPGP.HomeDir)
	assert.Equal(t, "2.1.0", cfg.OpenPGP.ReqVersion, "unset fields still pick up discovered defaults")
}

func TestDiscoverWithNoOverrideFileUsesBareDefaults(t *testing.T) {
	cfg, err := Discover(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", cfg.OpenPGP.ReqVersion)
	assert.Equal(t, "2.1.0", cfg.CMS.ReqVersion)
}

func TestBindingCarriesEnv(t *testing.T) {
	e := EngineInfo{FileName: "/usr/bin/gpg", HomeDir: "/home/x/.gnupg"}
	b := e.Binding([]string{"GNUPGHOME=/home/x/.gnupg"})
	assert.Equal(t, "/usr/bin/gpg", b.Path)
	assert.Equal(t, "/home/x/.gnupg", b.HomeDir)
	assert.Equal(t, []string{"GNUPGHOME=/home/x/.gnupg"}, b.Env)
}

func TestBindingTokenizesExtraArgs(t *testing.T) {
	e := EngineInfo{FileName: "/usr/bin/gpgsm", ExtraArgs: "--options /custom/gpg.conf --no-auto-check-trustdb"}
	b := e.Binding(nil)
	assert.Equal(t, []string{"--options", "/custom/gpg.conf", "--no-auto-check-trustdb"}, b.ExtraArgs)
}

func TestBindingWithNoExtraArgsLeavesItNil(t *testing.T) {
	e := EngineInfo{FileName: "/usr/bin/gpg"}
	b := e.Binding(nil)
	assert.Nil(t, b.ExtraArgs)
}
