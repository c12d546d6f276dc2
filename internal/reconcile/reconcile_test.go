package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"archhive/internal/hivescript"
)

// fakeSystem is an in-memory System collaborator for tests.
type fakeSystem struct {
	installed map[string]bool
	files     map[string]string
	installs  []string
	tweaks    []string
	runtimes  []string

	installErr error
	listErr    error
}

func newFakeSystem(installed ...string) *fakeSystem {
	f := &fakeSystem{
		installed: make(map[string]bool),
		files:     make(map[string]string),
	}
	for _, name := range installed {
		f.installed[name] = true
	}
	return f
}

func (f *fakeSystem) InstalledPackages(context.Context) ([]hivescript.Package, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []hivescript.Package
	for name := range f.installed {
		out = append(out, hivescript.Package{Name: name, Version: "1.0"})
	}
	return out, nil
}

func (f *fakeSystem) IsInstalled(_ context.Context, name string) (bool, error) {
	return f.installed[name], nil
}

func (f *fakeSystem) Install(_ context.Context, name string) error {
	if f.installErr != nil {
		return f.installErr
	}
	f.installed[name] = true
	f.installs = append(f.installs, name)
	return nil
}

func (f *fakeSystem) ReadFile(path string) ([]byte, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(content), nil
}

func (f *fakeSystem) WriteFile(path string, data []byte) error {
	f.files[path] = string(data)
	return nil
}

func (f *fakeSystem) ApplyTweak(_ context.Context, component, setting string) error {
	f.tweaks = append(f.tweaks, component+":"+setting)
	return nil
}

func (f *fakeSystem) ApplyRuntime(_ context.Context, application, setting string) error {
	if application != "neovim" && application != "zsh" && application != "bash" {
		return fmt.Errorf("%w: %s", ErrUnknownApplication, application)
	}
	f.runtimes = append(f.runtimes, application+":"+setting)
	return nil
}

func decodeLines(t *testing.T, lines ...string) *hivescript.Snapshot {
	t.Helper()
	codec := hivescript.NewCodec(hivescript.DefaultRegistry())
	snap, warnings := codec.DecodeSnapshot(lines)
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}
	return snap
}

func TestDryRunInstalledPackage(t *testing.T) {
	sys := newFakeSystem("firefox")
	snap := decodeLines(t, "p:firefox-120.0")

	report := New(sys).Reconcile(context.Background(), snap, true)

	if len(report.Changes) != 0 {
		t.Errorf("changes = %v, want none for installed package", report.Changes)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "already installed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want 'already installed'", report.Warnings)
	}
	if len(report.Errors) != 0 {
		t.Errorf("errors = %v", report.Errors)
	}
}

func TestDryRunMissingPackage(t *testing.T) {
	sys := newFakeSystem()
	snap := decodeLines(t, "p:firefox-120.0")

	report := New(sys).Reconcile(context.Background(), snap, true)

	if len(report.Changes) != 1 || !strings.Contains(report.Changes[0], "would install package firefox") {
		t.Errorf("changes = %v, want single 'would install'", report.Changes)
	}
	if len(report.Errors) != 0 {
		t.Errorf("errors = %v", report.Errors)
	}
	if len(sys.installs) != 0 {
		t.Errorf("dry run performed installs: %v", sys.installs)
	}
	if report.Actions[0].Status != StatusPlanned {
		t.Errorf("action status = %q, want planned", report.Actions[0].Status)
	}
}

func TestRealRunInstallsPackage(t *testing.T) {
	sys := newFakeSystem()
	snap := decodeLines(t, "p:vim-9.1")

	report := New(sys).Reconcile(context.Background(), snap, false)

	if len(sys.installs) != 1 || sys.installs[0] != "vim" {
		t.Errorf("installs = %v", sys.installs)
	}
	if report.Actions[0].Status != StatusApplied {
		t.Errorf("status = %q, want applied", report.Actions[0].Status)
	}
}

func TestInstallFailureDoesNotAbortRun(t *testing.T) {
	sys := newFakeSystem()
	sys.installErr = errors.New("mirror unreachable")
	snap := decodeLines(t, "p:vim-9.1", "t:sysctl:vm.swappiness=10")

	report := New(sys).Reconcile(context.Background(), snap, false)

	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v", report.Errors)
	}
	// The tweak after the failed install must still run.
	if len(sys.tweaks) != 1 {
		t.Errorf("tweaks = %v, want the tweak applied despite install failure", sys.tweaks)
	}
}

func TestConfigFileCreateVsUpdate(t *testing.T) {
	sys := newFakeSystem()
	sys.files["/etc/exists.conf"] = "old"
	snap := decodeLines(t,
		"cf:/etc/exists.conf:a=1",
		"cf:/etc/new.conf:b=2",
	)

	report := New(sys).Reconcile(context.Background(), snap, true)

	kinds := map[string]ActionKind{}
	for _, a := range report.Actions {
		kinds[a.Target] = a.Kind
	}
	if kinds["/etc/exists.conf"] != ActionUpdate {
		t.Errorf("existing path kind = %q, want update", kinds["/etc/exists.conf"])
	}
	if kinds["/etc/new.conf"] != ActionCreate {
		t.Errorf("new path kind = %q, want create", kinds["/etc/new.conf"])
	}
}

func TestPackageConfigSkippedWhenOwnerMissing(t *testing.T) {
	sys := newFakeSystem("neovim")
	snap := decodeLines(t,
		"pc:neovim:file:/home/u/.config/nvim/init.vim:set number",
		"pc:ghost:file:/etc/ghost.conf:x=1",
	)

	report := New(sys).Reconcile(context.Background(), snap, false)

	if len(report.Changes) != 1 || !strings.Contains(report.Changes[0], "configured neovim") {
		t.Errorf("changes = %v", report.Changes)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "ghost") && strings.Contains(w, "not installed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want skip for ghost", report.Warnings)
	}
	if len(report.Errors) != 0 {
		t.Errorf("errors = %v, package-not-installed must not be an error", report.Errors)
	}
}

func TestTweakAlwaysApplies(t *testing.T) {
	sys := newFakeSystem()
	snap := decodeLines(t, "t:sysctl:vm.swappiness=10")

	New(sys).Reconcile(context.Background(), snap, false)

	if len(sys.tweaks) != 1 || sys.tweaks[0] != "sysctl:vm.swappiness=10" {
		t.Errorf("tweaks = %v", sys.tweaks)
	}
}

func TestMalformedSysctlTweakWarns(t *testing.T) {
	sys := newFakeSystem()
	snap := decodeLines(t, "t:sysctl:no-equals-here")

	report := New(sys).Reconcile(context.Background(), snap, false)

	if len(sys.tweaks) != 0 {
		t.Errorf("malformed tweak applied: %v", sys.tweaks)
	}
	if len(report.Warnings) == 0 {
		t.Error("expected a warning for malformed sysctl tweak")
	}
}

func TestUnknownRuntimeApplicationWarns(t *testing.T) {
	sys := newFakeSystem()
	snap := decodeLines(t, "r:fancyeditor:set things")

	report := New(sys).Reconcile(context.Background(), snap, false)

	if len(report.Errors) != 0 {
		t.Errorf("errors = %v, unknown application should be a warning", report.Errors)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "fancyeditor") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", report.Warnings)
	}
}

func TestListFailureFallsBackToMembershipChecks(t *testing.T) {
	sys := newFakeSystem("vim")
	sys.listErr = errors.New("pacman database locked")
	snap := decodeLines(t, "p:vim-9.1")

	report := New(sys).Reconcile(context.Background(), snap, true)

	// Falls back to IsInstalled and still classifies as satisfied.
	if len(report.Changes) != 0 {
		t.Errorf("changes = %v", report.Changes)
	}
	if report.Actions[0].Status != StatusSatisfied {
		t.Errorf("status = %q, want satisfied", report.Actions[0].Status)
	}
}
