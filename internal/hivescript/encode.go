package hivescript

import (
	"fmt"
	"sort"
	"strings"
)

// EncodeSnapshot flattens a snapshot into wire lines in deterministic order:
// identity records first, then the singleton hardware facts, then the
// repeated collections in input order. Missing optional facts are omitted;
// packages with no name and configs with no path are skipped.
func (c *Codec) EncodeSnapshot(s *Snapshot) ([]string, error) {
	var lines []string

	appendRecord := func(typ RecordType, payload string) error {
		line, err := c.Encode(typ, payload)
		if err != nil {
			return err
		}
		lines = append(lines, line)
		return nil
	}
	appendFields := func(typ RecordType, fields ...string) error {
		line, err := c.EncodeFields(typ, fields...)
		if err != nil {
			return err
		}
		lines = append(lines, line)
		return nil
	}

	// A version assumed at decode time is not re-emitted: a versionless
	// input must round-trip without gaining a version line.
	if s.Version != "" && !s.versionAssumed {
		if err := appendRecord(TypeVersion, s.Version); err != nil {
			return nil, err
		}
	}
	if s.System != "" {
		if err := appendRecord(TypeSystem, s.System); err != nil {
			return nil, err
		}
	}
	if s.Scope != "" {
		if err := appendRecord(TypeScope, s.Scope); err != nil {
			return nil, err
		}
	}

	singletons := []struct {
		typ   RecordType
		value string
	}{
		{TypeKernel, s.Kernel},
		{TypeCPU, s.CPU},
		{TypeMemory, s.Memory},
		{TypeGPU, s.GPU},
		{TypeDisk, s.Disk},
	}
	for _, sg := range singletons {
		if sg.value == "" {
			continue
		}
		if err := appendRecord(sg.typ, sg.value); err != nil {
			return nil, err
		}
	}

	for _, p := range s.Packages {
		if p.Name == "" {
			continue
		}
		if err := appendRecord(TypePackage, packagePayload(p)); err != nil {
			return nil, err
		}
	}

	for _, cf := range s.ConfigFiles {
		if cf.Path == "" {
			continue
		}
		if err := appendFields(TypeConfig, cf.Path, settingsPayload(cf.Settings)); err != nil {
			return nil, err
		}
	}

	for _, pc := range s.PackageConfigs {
		if pc.Package == "" {
			continue
		}
		if err := appendFields(TypePackageConfig, pc.Package, pc.ConfigType, pc.Path, pc.Content); err != nil {
			return nil, err
		}
	}

	for _, t := range s.Tweaks {
		if err := appendFields(TypeTweak, t.Component, t.Setting); err != nil {
			return nil, err
		}
	}

	for _, r := range s.RuntimeConfigs {
		if err := appendFields(TypeRuntime, r.Application, r.Setting); err != nil {
			return nil, err
		}
	}

	for _, svc := range s.Services {
		if err := appendFields(TypeService, svc.Name, svc.State); err != nil {
			return nil, err
		}
	}

	for _, f := range s.Files {
		if f.Path == "" {
			continue
		}
		if err := appendFields(TypeFile, f.Path, f.Hash); err != nil {
			return nil, err
		}
	}

	// Unknown records hold their payload in wire form already, so they are
	// re-emitted verbatim rather than re-escaped.
	for _, rec := range s.Unknown {
		prefix, ok := c.registry.Prefix(rec.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, rec.Type)
		}
		lines = append(lines, prefix+rec.Payload)
	}

	return lines, nil
}

// packagePayload renders a package in the name-version wire form. A package
// without a version is just the name.
func packagePayload(p Package) string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "-" + p.Version
}

// settingsEscaper protects the pair and assignment separators inside
// settings keys and values. Backslash goes first, same reasoning as the wire
// escaper: the marker must be escaped before anything that uses it.
var settingsEscaper = strings.NewReplacer(
	`\`, `\\`,
	",", `\,`,
	"=", `\=`,
)

// settingsPayload renders a settings map as key=value pairs joined by commas,
// sorted by key so encoding is deterministic. Commas, equals signs, and
// backslashes inside keys or values are escaped so the separators stay
// unambiguous.
func settingsPayload(settings map[string]string) string {
	if len(settings) == 0 {
		return ""
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, settingsEscaper.Replace(k)+"="+settingsEscaper.Replace(settings[k]))
	}
	return strings.Join(pairs, ",")
}
