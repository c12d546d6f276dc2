// Package snapdiff computes the differences between two decoded snapshots:
// package additions/removals by name and config-file additions, removals,
// and setting changes by path. Diffing is pure; neither snapshot is mutated
// and nothing is re-read from disk.
package snapdiff

import (
	"fmt"
	"reflect"
	"sort"

	"archhive/internal/hivescript"
)

// Summary carries the six category counts of a diff result.
type Summary struct {
	AddedPackages   int `json:"added_packages"`
	RemovedPackages int `json:"removed_packages"`
	AddedConfigs    int `json:"added_configs"`
	RemovedConfigs  int `json:"removed_configs"`
	ChangedConfigs  int `json:"changed_configs"`
	Total           int `json:"total"`
}

// Result holds the derived difference sets between a before and an after
// snapshot. All slices are sorted for deterministic output and recomputed
// fresh on every Diff call.
type Result struct {
	AddedPackages   []string `json:"added_packages"`
	RemovedPackages []string `json:"removed_packages"`
	AddedConfigs    []string `json:"added_configs"`
	RemovedConfigs  []string `json:"removed_configs"`
	ChangedConfigs  []string `json:"changed_configs"`
	Summary         Summary  `json:"summary"`
}

// Empty reports whether the two snapshots were identical in every category.
func (r *Result) Empty() bool {
	return r.Summary.Total == 0
}

// Diff compares two decoded snapshots. Packages are compared by name only: a
// version change on an unchanged name is deliberately not a difference.
// Config files present in both snapshots are compared by structural equality
// of their settings maps.
func Diff(before, after *hivescript.Snapshot) *Result {
	r := &Result{
		AddedPackages:   []string{},
		RemovedPackages: []string{},
		AddedConfigs:    []string{},
		RemovedConfigs:  []string{},
		ChangedConfigs:  []string{},
	}

	beforePkgs := before.PackageSet()
	afterPkgs := after.PackageSet()
	for name := range afterPkgs {
		if _, ok := beforePkgs[name]; !ok {
			r.AddedPackages = append(r.AddedPackages, name)
		}
	}
	for name := range beforePkgs {
		if _, ok := afterPkgs[name]; !ok {
			r.RemovedPackages = append(r.RemovedPackages, name)
		}
	}

	beforeCfgs := before.ConfigSet()
	afterCfgs := after.ConfigSet()
	for path, afterCfg := range afterCfgs {
		beforeCfg, ok := beforeCfgs[path]
		if !ok {
			r.AddedConfigs = append(r.AddedConfigs, path)
			continue
		}
		if !reflect.DeepEqual(beforeCfg.Settings, afterCfg.Settings) {
			r.ChangedConfigs = append(r.ChangedConfigs, path)
		}
	}
	for path := range beforeCfgs {
		if _, ok := afterCfgs[path]; !ok {
			r.RemovedConfigs = append(r.RemovedConfigs, path)
		}
	}

	sort.Strings(r.AddedPackages)
	sort.Strings(r.RemovedPackages)
	sort.Strings(r.AddedConfigs)
	sort.Strings(r.RemovedConfigs)
	sort.Strings(r.ChangedConfigs)

	r.Summary = Summary{
		AddedPackages:   len(r.AddedPackages),
		RemovedPackages: len(r.RemovedPackages),
		AddedConfigs:    len(r.AddedConfigs),
		RemovedConfigs:  len(r.RemovedConfigs),
		ChangedConfigs:  len(r.ChangedConfigs),
	}
	r.Summary.Total = r.Summary.AddedPackages + r.Summary.RemovedPackages +
		r.Summary.AddedConfigs + r.Summary.RemovedConfigs + r.Summary.ChangedConfigs

	return r
}

// ChangeScript re-encodes only what changed into a minimal snapshot-shaped
// line list: a version record, a diff-scope record, the added packages, and
// the added or changed config files with their full settings from after.
// It supports shipping an incremental update instead of a full snapshot.
func ChangeScript(codec *hivescript.Codec, before, after *hivescript.Snapshot) ([]string, error) {
	result := Diff(before, after)

	delta := hivescript.NewSnapshot()
	delta.Version = after.Version
	if delta.Version == "" {
		delta.Version = codec.Registry().Version()
	}
	delta.Scope = "diff"

	afterPkgs := after.PackageSet()
	for _, name := range result.AddedPackages {
		delta.Packages = append(delta.Packages, afterPkgs[name])
	}

	afterCfgs := after.ConfigSet()
	changed := append(append([]string{}, result.AddedConfigs...), result.ChangedConfigs...)
	sort.Strings(changed)
	for _, path := range changed {
		delta.ConfigFiles = append(delta.ConfigFiles, afterCfgs[path])
	}

	lines, err := codec.EncodeSnapshot(delta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode change script: %w", err)
	}
	return lines, nil
}
