// Package hivescript implements the HiveScript line format: a compact,
// line-oriented encoding of a machine's configuration. Each line is a typed
// record made of a short ASCII prefix and an escaped payload.
package hivescript

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// SpecVersion is the compiled-in HiveScript specification version. Snapshots
// without an explicit version record are assumed to be this version.
const SpecVersion = "0.2.0"

// RecordType identifies the kind of data a line carries.
type RecordType string

// Record types understood by this spec version.
const (
	TypeVersion       RecordType = "version"
	TypeSystem        RecordType = "system"
	TypeScope         RecordType = "scope"
	TypePackage       RecordType = "package"
	TypeKernel        RecordType = "kernel"
	TypeCPU           RecordType = "cpu"
	TypeMemory        RecordType = "memory"
	TypeGPU           RecordType = "gpu"
	TypeDisk          RecordType = "disk"
	TypeFile          RecordType = "file"
	TypeConfig        RecordType = "config"
	TypePackageConfig RecordType = "package_config"
	TypeService       RecordType = "service"
	TypeInput         RecordType = "input"
	TypeOutput        RecordType = "output"
	TypeNetwork       RecordType = "network"
	TypeCommand       RecordType = "command"
	TypeRuntime       RecordType = "runtime"
	TypeBuild         RecordType = "build"
	TypeTweak         RecordType = "tweak"
	TypeError         RecordType = "error"
	TypeAlias         RecordType = "alias"
	TypeHook          RecordType = "hook"
)

const (
	minPrefixLen = 2 // shortest legal prefix is one character plus ':'
	maxPrefixLen = 5
)

// Registry holds the bidirectional mapping between wire prefixes and record
// types. It is constructed once, validated, and passed into the codec; there
// is no process-global table.
type Registry struct {
	version  string
	byPrefix map[string]RecordType
	byType   map[RecordType]string
}

// NewRegistry builds a registry from a type-to-prefix table. It fails if any
// prefix is malformed, if the mapping is not a bijection, or if one prefix is
// a prefix of another (which would make decoding ambiguous).
func NewRegistry(version string, prefixes map[RecordType]string) (*Registry, error) {
	if version == "" {
		version = SpecVersion
	}
	r := &Registry{
		version:  version,
		byPrefix: make(map[string]RecordType, len(prefixes)),
		byType:   make(map[RecordType]string, len(prefixes)),
	}

	for typ, prefix := range prefixes {
		if typ == "" {
			return nil, fmt.Errorf("registry: empty record type for prefix %q", prefix)
		}
		if len(prefix) < minPrefixLen || len(prefix) > maxPrefixLen {
			return nil, fmt.Errorf("registry: prefix %q for type %q must be %d-%d characters", prefix, typ, minPrefixLen, maxPrefixLen)
		}
		if !strings.HasSuffix(prefix, ":") {
			return nil, fmt.Errorf("registry: prefix %q for type %q must end in ':'", prefix, typ)
		}
		for _, c := range prefix[:len(prefix)-1] {
			if c < 'a' || c > 'z' {
				return nil, fmt.Errorf("registry: prefix %q for type %q contains non-ASCII-lowercase character", prefix, typ)
			}
		}
		if existing, ok := r.byPrefix[prefix]; ok {
			return nil, fmt.Errorf("registry: prefix %q claimed by both %q and %q", prefix, existing, typ)
		}
		r.byPrefix[prefix] = typ
		r.byType[typ] = prefix
	}

	if len(r.byType) != len(r.byPrefix) {
		return nil, fmt.Errorf("registry: mapping is not a bijection (%d types, %d prefixes)", len(r.byType), len(r.byPrefix))
	}

	// Reject overlapping prefixes so longest-match decoding never has to
	// break a tie. Because every prefix ends in ':' this can only happen
	// with duplicate entries, but it is validated rather than assumed.
	all := r.SortedPrefixes()
	for i, a := range all {
		for _, b := range all[i+1:] {
			if strings.HasPrefix(b, a) || strings.HasPrefix(a, b) {
				return nil, fmt.Errorf("registry: prefixes %q and %q overlap", a, b)
			}
		}
	}

	return r, nil
}

// DefaultRegistry returns the registry for the compiled-in spec version.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(SpecVersion, map[RecordType]string{
		TypeVersion:       "v:",
		TypeSystem:        "sys:",
		TypeScope:         "sc:",
		TypePackage:       "p:",
		TypeKernel:        "k:",
		TypeCPU:           "c:",
		TypeMemory:        "m:",
		TypeGPU:           "g:",
		TypeDisk:          "d:",
		TypeFile:          "f:",
		TypeConfig:        "cf:",
		TypePackageConfig: "pc:",
		TypeService:       "s:",
		TypeInput:         "i:",
		TypeOutput:        "o:",
		TypeNetwork:       "n:",
		TypeCommand:       "cmd:",
		TypeRuntime:       "r:",
		TypeBuild:         "b:",
		TypeTweak:         "t:",
		TypeError:         "e:",
		TypeAlias:         "a:",
		TypeHook:          "h:",
	})
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("hivescript: built-in registry invalid: %v", err))
	}
	return r
}

// Version returns the spec version this registry was built for.
func (r *Registry) Version() string { return r.version }

// Prefix returns the wire prefix for a record type.
func (r *Registry) Prefix(typ RecordType) (string, bool) {
	p, ok := r.byType[typ]
	return p, ok
}

// Type returns the record type for a wire prefix.
func (r *Registry) Type(prefix string) (RecordType, bool) {
	t, ok := r.byPrefix[prefix]
	return t, ok
}

// Match finds the longest registered prefix the line starts with.
func (r *Registry) Match(line string) (RecordType, string, bool) {
	var bestPrefix string
	var bestType RecordType
	for prefix, typ := range r.byPrefix {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestType = typ
		}
	}
	if bestPrefix == "" {
		return "", "", false
	}
	return bestType, line[len(bestPrefix):], true
}

// SortedPrefixes returns all registered prefixes in lexical order.
func (r *Registry) SortedPrefixes() []string {
	out := make([]string, 0, len(r.byPrefix))
	for p := range r.byPrefix {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PrefixMap returns a copy of the prefix table as prefix -> type name.
func (r *Registry) PrefixMap() map[string]string {
	out := make(map[string]string, len(r.byPrefix))
	for prefix, typ := range r.byPrefix {
		out[prefix] = string(typ)
	}
	return out
}

// specFile is the on-disk form of a registry, shared between installations so
// they agree on the prefix table.
type specFile struct {
	Version  string            `json:"version"`
	Prefixes map[string]string `json:"prefixes"` // prefix -> type
}

// SaveSpec writes the registry (version tag plus prefix table) as JSON.
func (r *Registry) SaveSpec(path string) error {
	sf := specFile{Version: r.version, Prefixes: r.PrefixMap()}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write spec file: %w", err)
	}
	return nil
}

// LoadSpec reads a registry previously written by SaveSpec. The loaded table
// goes through the same validation as NewRegistry.
func LoadSpec(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	var sf specFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}

	prefixes := make(map[RecordType]string, len(sf.Prefixes))
	for prefix, typ := range sf.Prefixes {
		prefixes[RecordType(typ)] = prefix
	}
	return NewRegistry(sf.Version, prefixes)
}
