package hivescript

// Record is one decoded (type, payload) unit, the unit of the wire format.
type Record struct {
	Type    RecordType `json:"type"`
	Payload string     `json:"payload"`
}

// Package is one installed package. Name is the key within a snapshot.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ConfigFile is a tracked configuration file and the settings extracted from
// it. Settings insertion order is irrelevant.
type ConfigFile struct {
	Path     string            `json:"path"`
	Settings map[string]string `json:"settings"`
}

// PackageConfig carries configuration owned by a specific package.
type PackageConfig struct {
	Package    string `json:"package"`
	ConfigType string `json:"config_type"` // "file" or "runtime"
	Path       string `json:"path"`
	Content    string `json:"content"`
}

// Tweak is a low-level system adjustment, typically a sysctl key=value.
type Tweak struct {
	Component string `json:"component"`
	Setting   string `json:"setting"`
}

// RuntimeConfig is a per-application setting (e.g. an editor option).
type RuntimeConfig struct {
	Application string `json:"application"`
	Setting     string `json:"setting"`
}

// Service is a system service and its state.
type Service struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// TrackedFile is a file path paired with a content hash.
type TrackedFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Snapshot is a complete decoded system snapshot. It is immutable once
// decoded; diffing and reconciliation never mutate it. The repeated
// collections are always non-nil so consumers never branch on absence.
type Snapshot struct {
	// Identity. An empty Scope is distinct from an explicit "full" scope.
	Version string `json:"version"`
	System  string `json:"system,omitempty"`
	Scope   string `json:"scope,omitempty"`

	// Singleton hardware facts; empty when the fact was not captured.
	Kernel string `json:"kernel,omitempty"`
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	GPU    string `json:"gpu,omitempty"`
	Disk   string `json:"disk,omitempty"`

	Packages       []Package       `json:"packages"`
	ConfigFiles    []ConfigFile    `json:"config_files"`
	PackageConfigs []PackageConfig `json:"package_configs"`
	Tweaks         []Tweak         `json:"tweaks"`
	RuntimeConfigs []RuntimeConfig `json:"runtime_configs"`
	Services       []Service       `json:"services,omitempty"`
	Files          []TrackedFile   `json:"files,omitempty"`

	// Unknown preserves records whose type is registered but has no
	// structured collection here (commands, aliases, hooks, and types from
	// newer spec versions). They pass through decode and re-encode
	// unchanged so round trips are lossless.
	Unknown []Record `json:"unknown,omitempty"`

	// versionAssumed is set when Version was filled in at decode time
	// rather than read from a version record. The encoder consults it so
	// a versionless input re-encodes without gaining a version line.
	versionAssumed bool
}

// NewSnapshot returns an empty snapshot with all collections materialized.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Packages:       []Package{},
		ConfigFiles:    []ConfigFile{},
		PackageConfigs: []PackageConfig{},
		Tweaks:         []Tweak{},
		RuntimeConfigs: []RuntimeConfig{},
	}
}

// PackageSet returns the snapshot's packages keyed by name. When the same
// name appears more than once the last occurrence wins; that occurrence is
// the authoritative one for diffing and reconciliation.
func (s *Snapshot) PackageSet() map[string]Package {
	set := make(map[string]Package, len(s.Packages))
	for _, p := range s.Packages {
		set[p.Name] = p
	}
	return set
}

// ConfigSet returns the snapshot's config files keyed by path, last
// occurrence winning as for PackageSet.
func (s *Snapshot) ConfigSet() map[string]ConfigFile {
	set := make(map[string]ConfigFile, len(s.ConfigFiles))
	for _, c := range s.ConfigFiles {
		set[c.Path] = c
	}
	return set
}

// Warning records a line that failed to decode. Per-line failures are
// recoverable: they are collected and the decode continues.
type Warning struct {
	LineNo int    `json:"line"`
	Text   string `json:"text"`
	Err    error  `json:"-"`
}

func (w Warning) Error() string {
	return w.Text
}
