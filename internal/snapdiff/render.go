package snapdiff

import (
	"fmt"
	"sort"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"

	"archhive/internal/hivescript"
)

const unifiedContext = 3

// Unified renders the settings change for one config path as a classic
// unified patch (---/+++ headers, @@ hunks). The settings maps are flattened
// to sorted key=value lines so the patch is stable across runs.
func Unified(path string, before, after *hivescript.Snapshot) (string, error) {
	beforeCfg := before.ConfigSet()[path]
	afterCfg := after.ConfigSet()[path]

	ud := difflib.UnifiedDiff{
		A:        settingsLines(beforeCfg.Settings),
		B:        settingsLines(afterCfg.Settings),
		FromFile: "a" + path,
		ToFile:   "b" + path,
		Context:  unifiedContext,
	}
	s, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("failed to render diff for %s: %w", path, err)
	}
	return s, nil
}

// Render formats a full diff result as human-readable text, with unified
// patches for the changed config paths.
func Render(result *Result, before, after *hivescript.Snapshot) string {
	var b strings.Builder

	section := func(header string, items []string, marker string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s (%d):\n", header, len(items))
		for _, item := range items {
			fmt.Fprintf(&b, "  %s %s\n", marker, item)
		}
	}

	section("Added packages", result.AddedPackages, "+")
	section("Removed packages", result.RemovedPackages, "-")
	section("Added configs", result.AddedConfigs, "+")
	section("Removed configs", result.RemovedConfigs, "-")

	if len(result.ChangedConfigs) > 0 {
		fmt.Fprintf(&b, "Changed configs (%d):\n", len(result.ChangedConfigs))
		for _, path := range result.ChangedConfigs {
			patch, err := Unified(path, before, after)
			if err != nil {
				fmt.Fprintf(&b, "  ~ %s (diff unavailable: %v)\n", path, err)
				continue
			}
			b.WriteString(patch)
		}
	}

	if result.Empty() {
		b.WriteString("No differences.\n")
	}
	return b.String()
}

func settingsLines(settings map[string]string) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%s\n", k, settings[k]))
	}
	return lines
}
