package hivescript

import (
	"fmt"
	"strings"
)

// fallbackVersion is used when a package record carries no parseable version.
const fallbackVersion = "unknown"

// snapshotParser folds one decoded record into the snapshot under
// construction. Parsers receive the already-unescaped fields.
type snapshotParser func(s *Snapshot, fields []string) error

// snapshotParsers dispatches record types to their typed parsers. Registered
// types without an entry here (commands, aliases, hooks, and anything a newer
// spec version adds) are preserved in Snapshot.Unknown instead of being
// dropped.
var snapshotParsers = map[RecordType]snapshotParser{
	TypeVersion: func(s *Snapshot, fields []string) error { s.Version = joinFields(fields); return nil },
	TypeSystem:  func(s *Snapshot, fields []string) error { s.System = joinFields(fields); return nil },
	TypeScope:   func(s *Snapshot, fields []string) error { s.Scope = joinFields(fields); return nil },
	TypeKernel:  func(s *Snapshot, fields []string) error { s.Kernel = joinFields(fields); return nil },
	TypeCPU:     func(s *Snapshot, fields []string) error { s.CPU = joinFields(fields); return nil },
	TypeMemory:  func(s *Snapshot, fields []string) error { s.Memory = joinFields(fields); return nil },
	TypeGPU:     func(s *Snapshot, fields []string) error { s.GPU = joinFields(fields); return nil },
	TypeDisk:    func(s *Snapshot, fields []string) error { s.Disk = joinFields(fields); return nil },

	TypePackage:       parsePackage,
	TypeConfig:        parseConfigFile,
	TypePackageConfig: parsePackageConfig,
	TypeTweak:         parseTweak,
	TypeRuntime:       parseRuntime,
	TypeService:       parseService,
	TypeFile:          parseTrackedFile,
}

// DecodeSnapshot parses wire lines into a snapshot. A line that fails to
// decode is a recoverable error: it becomes a warning and processing
// continues with the remaining lines. Blank lines and '#' comments are
// skipped. If no version record is present the registry's compiled-in
// version is assumed.
func (c *Codec) DecodeSnapshot(lines []string) (*Snapshot, []Warning) {
	snap := NewSnapshot()
	var warnings []Warning

	for i, line := range lines {
		line = strings.TrimRight(line, "\n")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		typ, rawRest, ok := c.registry.Match(line)
		if !ok {
			warnings = append(warnings, Warning{
				LineNo: i + 1,
				Text:   fmt.Sprintf("line %d: %v", i+1, fmt.Errorf("%w: %q", ErrInvalidFormat, truncateForError(line))),
				Err:    ErrInvalidFormat,
			})
			continue
		}

		parser, handled := snapshotParsers[typ]
		if !handled {
			// Passthrough: keep the wire-form payload so re-encoding
			// reproduces the line byte for byte.
			snap.Unknown = append(snap.Unknown, Record{Type: typ, Payload: rawRest})
			continue
		}

		fields := splitUnescaped(rawRest)
		for j, f := range fields {
			fields[j] = unescape(f)
		}

		if err := parser(snap, fields); err != nil {
			warnings = append(warnings, Warning{
				LineNo: i + 1,
				Text:   fmt.Sprintf("line %d: %v", i+1, err),
				Err:    err,
			})
		}
	}

	if snap.Version == "" {
		snap.Version = c.registry.Version()
		snap.versionAssumed = true
	}

	return snap, warnings
}

// parsePackage splits the name-version wire form at the last dash. A payload
// with no version part falls back to version "unknown" rather than failing.
// Duplicate names are resolved last-wins: the later record replaces the
// earlier one in place, keeping first-encounter order.
func parsePackage(s *Snapshot, fields []string) error {
	payload := joinFields(fields)
	if payload == "" {
		return fmt.Errorf("%w: empty package record", ErrMalformedPayload)
	}

	pkg := Package{Name: payload, Version: fallbackVersion}
	if idx := strings.LastIndex(payload, "-"); idx > 0 && idx < len(payload)-1 {
		pkg.Name = payload[:idx]
		pkg.Version = payload[idx+1:]
	}

	for i, existing := range s.Packages {
		if existing.Name == pkg.Name {
			s.Packages[i] = pkg
			return nil
		}
	}
	s.Packages = append(s.Packages, pkg)
	return nil
}

// parseConfigFile reads path plus a key=value,key=value settings field.
// Separators inside keys or values arrive escaped (`\,`, `\=`); splitting
// honors the escapes. A record with only a path yields empty settings.
// A segment without '=' is a comma written bare inside a value, as
// handwritten lines have them; it is folded back into the preceding value,
// or dropped when there is no preceding pair.
func parseConfigFile(s *Snapshot, fields []string) error {
	if fields[0] == "" {
		return fmt.Errorf("%w: config record without path", ErrMalformedPayload)
	}

	cf := ConfigFile{Path: fields[0], Settings: map[string]string{}}
	if len(fields) > 1 {
		var lastKey string
		for _, pair := range splitSettingPairs(joinFields(fields[1:])) {
			if k, v, ok := cutSettingPair(pair); ok {
				lastKey = unescapeSetting(k)
				cf.Settings[lastKey] = unescapeSetting(v)
				continue
			}
			if lastKey != "" {
				cf.Settings[lastKey] += "," + unescapeSetting(pair)
			}
		}
	}

	for i, existing := range s.ConfigFiles {
		if existing.Path == cf.Path {
			s.ConfigFiles[i] = cf
			return nil
		}
	}
	s.ConfigFiles = append(s.ConfigFiles, cf)
	return nil
}

const packageConfigFieldCount = 4

func parsePackageConfig(s *Snapshot, fields []string) error {
	if len(fields) < packageConfigFieldCount {
		return fmt.Errorf("%w: package_config needs %d fields, got %d", ErrMalformedPayload, packageConfigFieldCount, len(fields))
	}
	s.PackageConfigs = append(s.PackageConfigs, PackageConfig{
		Package:    fields[0],
		ConfigType: fields[1],
		Path:       fields[2],
		Content:    joinFields(fields[3:]),
	})
	return nil
}

func parseTweak(s *Snapshot, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("%w: tweak needs component and setting", ErrMalformedPayload)
	}
	s.Tweaks = append(s.Tweaks, Tweak{
		Component: fields[0],
		Setting:   joinFields(fields[1:]),
	})
	return nil
}

// parseRuntime tolerates a missing setting: a bare application name decodes
// to an empty setting rather than a warning.
func parseRuntime(s *Snapshot, fields []string) error {
	rc := RuntimeConfig{Application: fields[0]}
	if len(fields) > 1 {
		rc.Setting = joinFields(fields[1:])
	}
	s.RuntimeConfigs = append(s.RuntimeConfigs, rc)
	return nil
}

func parseService(s *Snapshot, fields []string) error {
	if fields[0] == "" {
		return fmt.Errorf("%w: service record without name", ErrMalformedPayload)
	}
	svc := Service{Name: fields[0]}
	if len(fields) > 1 {
		svc.State = fields[1]
	}
	s.Services = append(s.Services, svc)
	return nil
}

func parseTrackedFile(s *Snapshot, fields []string) error {
	if fields[0] == "" {
		return fmt.Errorf("%w: file record without path", ErrMalformedPayload)
	}
	f := TrackedFile{Path: fields[0]}
	if len(fields) > 1 {
		f.Hash = fields[1]
	}
	s.Files = append(s.Files, f)
	return nil
}

// joinFields reassembles fields that were split on an unescaped colon but
// logically belong to one free-text value.
func joinFields(fields []string) string {
	if len(fields) == 1 {
		return fields[0]
	}
	return strings.Join(fields, ":")
}
