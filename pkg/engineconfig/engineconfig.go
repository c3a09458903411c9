// Package engineconfig discovers and configures the gpg/gpgsm binaries a
// gpgme.Context binds to: which binary, which version, which home
// directory, layered with an optional YAML override file the way the
// teacher's pkg/config layers a user's config.yml over hard-coded
// defaults.
//
// Grounded on original_source/lang/cpp/src/engineinfo.{h,cpp}'s EngineInfo
// (file name, version, required version, home directory, one per
// protocol) for the shape, and on the teacher's pkg/config/app_config.go
// for the xdg-config-dir-plus-YAML-overlay discovery pattern.
package engineconfig

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/imdario/mergo"
	yaml "github.com/jesseduffield/yaml"
	"github.com/mgutz/str"

	"github.com/gpgme-go/gogpgme/pkg/gpgme"
)

// Version is a parsed "major.minor.patch" engine version string, mirroring
// EngineInfo::Version's sscanf-based parse (malformed input yields the
// zero Version rather than an error, matching the original's silent
// fallback).
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses a "major.minor.patch"-shaped string, returning the
// zero Version on any malformed input.
func ParseVersion(s string) Version {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return Version{}
	}
	v := Version{}
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return Version{}
	}
	if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return Version{}
	}
	patch := parts[2]
	if i := strings.IndexFunc(patch, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		patch = patch[:i]
	}
	if v.Patch, err = strconv.Atoi(patch); err != nil {
		return Version{}
	}
	return v
}

// Less reports whether v is strictly older than other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// EngineInfo is the per-protocol discovery record, mirroring
// GpgME::EngineInfo's fileName/version/requiredVersion/homeDirectory.
type EngineInfo struct {
	FileName   string `yaml:"fileName,omitempty"`
	Version    string `yaml:"version,omitempty"`
	ReqVersion string `yaml:"reqVersion,omitempty"`
	HomeDir    string `yaml:"homeDir,omitempty"`
	// ExtraArgs is a single shell-quoted string of engine-wide flags, e.g.
	// `--options /custom/gpg.conf --no-auto-check-trustdb`, split into argv
	// the same way the teacher's pkg/commands/os.go splits a user-supplied
	// command template.
	ExtraArgs string `yaml:"extraArgs,omitempty"`
}

// Binding converts an EngineInfo into the gpgme.EngineBinding its Context
// constructor wants.
func (e EngineInfo) Binding(env []string) gpgme.EngineBinding {
	var extraArgs []string
	if e.ExtraArgs != "" {
		extraArgs = str.ToArgv(e.ExtraArgs)
	}
	return gpgme.EngineBinding{
		Path:      e.FileName,
		Version:   e.Version,
		HomeDir:   e.HomeDir,
		Env:       env,
		ExtraArgs: extraArgs,
	}
}

// Satisfies reports whether e's discovered version meets its own
// ReqVersion floor (empty ReqVersion always passes).
func (e EngineInfo) Satisfies() bool {
	if e.ReqVersion == "" {
		return true
	}
	return !ParseVersion(e.Version).Less(ParseVersion(e.ReqVersion))
}

// Config is the on-disk override shape: zero or more protocol names mapped
// to a partial EngineInfo, merged over discovered defaults.
type Config struct {
	OpenPGP EngineInfo `yaml:"openpgp,omitempty"`
	CMS     EngineInfo `yaml:"cms,omitempty"`
}

// defaultReqVersions mirrors GPGME's own minimum-supported-engine floor.
var defaultReqVersions = map[string]string{
	"gpg":   "2.1.0",
	"gpgsm": "2.1.0",
}

// Discover locates gpg and gpgsm on PATH, reads their --version output,
// and layers configDir/engines.yml over the discovered defaults the way
// pkg/i18n layers a loaded translation set over its English base
// (mergo.Merge fills in only the fields the override left zero).
func Discover(configDir string) (Config, error) {
	cfg := Config{
		OpenPGP: discoverOne("gpg"),
		CMS:     discoverOne("gpgsm"),
	}

	override, err := loadOverride(configDir)
	if err != nil {
		return Config{}, err
	}
	if err := mergo.Merge(&override, cfg); err != nil {
		return Config{}, err
	}
	return override, nil
}

func discoverOne(name string) EngineInfo {
	info := EngineInfo{ReqVersion: defaultReqVersions[name]}

	path, err := exec.LookPath(name)
	if err != nil {
		return info
	}
	info.FileName = path

	out, err := exec.Command(path, "--version").Output()
	if err == nil {
		info.Version = parseVersionOutput(string(out))
	}
	return info
}

// parseVersionOutput extracts the version token from gpg/gpgsm's
// "--version" first line, e.g. "gpg (GnuPG) 2.4.3" -> "2.4.3".
func parseVersionOutput(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// ConfigDirDefault mirrors the teacher's configDirForVendor: an env
// override, then an XDG-standard config home for the given vendor/project.
func ConfigDirDefault(vendor, project string) string {
	if v := os.Getenv("GOGPGME_CONFIG_DIR"); v != "" {
		return v
	}
	return xdg.New(vendor, project).ConfigHome()
}

func loadOverride(configDir string) (Config, error) {
	if configDir == "" {
		return Config{}, nil
	}
	fileName := filepath.Join(configDir, "engines.yml")

	content, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
