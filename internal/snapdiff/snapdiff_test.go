package snapdiff

import (
	"reflect"
	"strings"
	"testing"

	"archhive/internal/hivescript"
)

func snapshotWith(t *testing.T, lines ...string) *hivescript.Snapshot {
	t.Helper()
	codec := hivescript.NewCodec(hivescript.DefaultRegistry())
	snap, warnings := codec.DecodeSnapshot(lines)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	return snap
}

func TestDiffIdentity(t *testing.T) {
	a := snapshotWith(t,
		"p:firefox-120.0",
		"p:vim-9.1",
		"cf:/etc/fstab:defaults=relatime,noatime",
	)

	r := Diff(a, a)
	if !r.Empty() {
		t.Errorf("Diff(A, A) not empty: %+v", r)
	}
}

func TestDiffSymmetry(t *testing.T) {
	a := snapshotWith(t, "p:firefox-120.0", "p:vim-9.1", "cf:/etc/hosts:local=on")
	b := snapshotWith(t, "p:firefox-120.0", "p:zsh-5.9", "cf:/etc/fstab:defaults=noatime")

	ab := Diff(a, b)
	ba := Diff(b, a)

	if !reflect.DeepEqual(ab.AddedPackages, ba.RemovedPackages) {
		t.Errorf("Diff(A,B).added %v != Diff(B,A).removed %v", ab.AddedPackages, ba.RemovedPackages)
	}
	if !reflect.DeepEqual(ab.RemovedPackages, ba.AddedPackages) {
		t.Errorf("Diff(A,B).removed %v != Diff(B,A).added %v", ab.RemovedPackages, ba.AddedPackages)
	}
	if !reflect.DeepEqual(ab.AddedConfigs, ba.RemovedConfigs) {
		t.Errorf("config symmetry broken: %v vs %v", ab.AddedConfigs, ba.RemovedConfigs)
	}
}

func TestDiffAddedPackage(t *testing.T) {
	a := snapshotWith(t, "p:firefox-120.0")
	b := snapshotWith(t, "p:firefox-120.0", "p:vim-9.1")

	r := Diff(a, b)
	if !reflect.DeepEqual(r.AddedPackages, []string{"vim"}) {
		t.Errorf("added = %v, want [vim]", r.AddedPackages)
	}
	if len(r.RemovedPackages) != 0 {
		t.Errorf("removed = %v, want empty", r.RemovedPackages)
	}
	if r.Summary.AddedPackages != 1 || r.Summary.Total != 1 {
		t.Errorf("summary = %+v", r.Summary)
	}
}

func TestDiffVersionChangeIgnored(t *testing.T) {
	a := snapshotWith(t, "p:firefox-119.0")
	b := snapshotWith(t, "p:firefox-120.0")

	if r := Diff(a, b); !r.Empty() {
		t.Errorf("version-only change reported as diff: %+v", r)
	}
}

func TestDiffChangedConfig(t *testing.T) {
	a := snapshotWith(t, "cf:/etc/fstab:defaults=relatime", "cf:/etc/hosts:local=on")
	b := snapshotWith(t, "cf:/etc/fstab:defaults=noatime", "cf:/etc/hosts:local=on")

	r := Diff(a, b)
	if !reflect.DeepEqual(r.ChangedConfigs, []string{"/etc/fstab"}) {
		t.Errorf("changed = %v, want [/etc/fstab]", r.ChangedConfigs)
	}
	if len(r.AddedConfigs) != 0 || len(r.RemovedConfigs) != 0 {
		t.Errorf("unexpected add/remove: %+v", r)
	}
}

func TestChangeScript(t *testing.T) {
	codec := hivescript.NewCodec(hivescript.DefaultRegistry())

	before := snapshotWith(t, "p:firefox-120.0", "cf:/etc/fstab:defaults=relatime")
	after := snapshotWith(t,
		"p:firefox-120.0",
		"p:vim-9.1",
		"cf:/etc/fstab:defaults=noatime",
		"cf:/etc/hosts:local=on",
	)

	lines, err := ChangeScript(codec, before, after)
	if err != nil {
		t.Fatalf("ChangeScript: %v", err)
	}

	delta, warnings := codec.DecodeSnapshot(lines)
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}
	if delta.Scope != "diff" {
		t.Errorf("scope = %q, want diff", delta.Scope)
	}
	if len(delta.Packages) != 1 || delta.Packages[0].Name != "vim" {
		t.Errorf("packages = %v, want only vim", delta.Packages)
	}
	paths := make([]string, 0, len(delta.ConfigFiles))
	for _, cf := range delta.ConfigFiles {
		paths = append(paths, cf.Path)
	}
	if !reflect.DeepEqual(paths, []string{"/etc/fstab", "/etc/hosts"}) {
		t.Errorf("config paths = %v", paths)
	}
	// Changed config carries the full settings from after.
	if delta.ConfigSet()["/etc/fstab"].Settings["defaults"] != "noatime" {
		t.Errorf("fstab settings = %v", delta.ConfigSet()["/etc/fstab"].Settings)
	}
}

func TestUnifiedRendering(t *testing.T) {
	before := snapshotWith(t, "cf:/etc/fstab:defaults=relatime,compress=off")
	after := snapshotWith(t, "cf:/etc/fstab:defaults=noatime,compress=off")

	patch, err := Unified("/etc/fstab", before, after)
	if err != nil {
		t.Fatalf("Unified: %v", err)
	}
	if !strings.Contains(patch, "-defaults=relatime") || !strings.Contains(patch, "+defaults=noatime") {
		t.Errorf("patch missing expected hunks:\n%s", patch)
	}
	if !strings.Contains(patch, "a/etc/fstab") || !strings.Contains(patch, "b/etc/fstab") {
		t.Errorf("patch missing file headers:\n%s", patch)
	}
}

func TestRenderEmpty(t *testing.T) {
	a := snapshotWith(t, "p:vim-9.1")
	out := Render(Diff(a, a), a, a)
	if !strings.Contains(out, "No differences.") {
		t.Errorf("Render(empty) = %q", out)
	}
}
