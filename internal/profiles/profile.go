// Package profiles declares encoding profiles locally and reconciles them
// with the profiles defined on the remote service.
package profiles

import (
	"fmt"
	"io"
	"maps"
	"strings"
	"unicode"

	"gopkg.in/ini.v1"

	"github.com/jmylchreest/pandactl/internal/apperr"
	"github.com/jmylchreest/pandactl/internal/panda"
)

// DefaultFile is the profile declaration file read when none is given.
const DefaultFile = "profiles.cfg"

// Attribute names with special meaning to the reconciler.
const (
	AttrName       = "name"
	AttrID         = "id"
	AttrPresetName = "preset_name"
)

// Profile is a named set of encoding attributes. Remote profiles hold the
// values decoded from JSON; declared profiles hold strings.
type Profile map[string]any

// Name returns the profile name.
func (p Profile) Name() string { return panda.StringValue(p[AttrName]) }

// ID returns the remote identifier, empty for declared profiles.
func (p Profile) ID() string { return panda.StringValue(p[AttrID]) }

// Clone returns a shallow copy.
func (p Profile) Clone() Profile { return maps.Clone(p) }

// FromRemote converts decoded remote profiles.
func FromRemote(remote []map[string]any) []Profile {
	out := make([]Profile, len(remote))
	for i, r := range remote {
		out[i] = Profile(r)
	}
	return out
}

// LoadFile reads profile declarations from an INI file.
func LoadFile(path string) (map[string]Profile, error) {
	cfg, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, &apperr.FileLoadError{Path: path, Err: err}
	}
	return fromINI(cfg), nil
}

// Load reads profile declarations from r.
//
// Each section declares one profile named after the section. Keys are
// lowercased, keys of the DEFAULT section are inherited by every profile and
// values may reference other keys as %(key)s.
func Load(r io.Reader) (map[string]Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}
	cfg, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	return fromINI(cfg), nil
}

// Values are kept verbatim apart from a trailing comment, see trimComment.
var loadOptions = ini.LoadOptions{
	InsensitiveKeys:         true,
	IgnoreInlineComment:     true,
	IgnoreContinuation:      true,
	PreserveSurroundedQuote: true,
}

// trimComment cuts v at the first ';' when it follows whitespace. '#' never
// starts an inline comment, so URLs with fragments survive.
func trimComment(v string) string {
	i := strings.IndexByte(v, ';')
	if i > 0 && unicode.IsSpace(rune(v[i-1])) {
		return strings.TrimSpace(v[:i])
	}
	return v
}

func fromINI(cfg *ini.File) map[string]Profile {
	for _, sec := range cfg.Sections() {
		for _, key := range sec.Keys() {
			key.SetValue(trimComment(key.Value()))
		}
	}
	defaults := cfg.Section(ini.DefaultSection)

	profiles := make(map[string]Profile)
	for _, sec := range cfg.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			continue
		}

		p := Profile{AttrName: name}
		for _, key := range defaults.Keys() {
			p[key.Name()] = key.String()
		}
		for _, key := range sec.Keys() {
			p[key.Name()] = key.String()
		}
		profiles[name] = p
	}
	return profiles
}
