// Package reconcile turns a decoded snapshot (the desired state) into the
// list of actions needed to converge the live system, and optionally
// executes them. Each item is evaluated independently; an error on one item
// never aborts the others. Callers must serialize concurrent reconciliation
// runs against the same target system.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"archhive/internal/hivescript"
)

// ErrPackageNotInstalled marks a package-config item skipped because the
// owning package is absent. It is a warning, not an error.
var ErrPackageNotInstalled = errors.New("package not installed")

// System is the external collaborator the reconciler delegates side effects
// to. Implementations own all process execution, file I/O, and timeouts.
type System interface {
	InstalledPackages(ctx context.Context) ([]hivescript.Package, error)
	IsInstalled(ctx context.Context, name string) (bool, error)
	Install(ctx context.Context, name string) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ApplyTweak(ctx context.Context, component, setting string) error
	ApplyRuntime(ctx context.Context, application, setting string) error
}

// ActionKind classifies what a reconcile action does.
type ActionKind string

const (
	ActionInstall   ActionKind = "install"
	ActionCreate    ActionKind = "create"
	ActionUpdate    ActionKind = "update"
	ActionConfigure ActionKind = "configure"
	ActionTweak     ActionKind = "tweak"
	ActionRuntime   ActionKind = "runtime"
)

// ActionStatus is the terminal state of one reconcile item.
type ActionStatus string

const (
	StatusSatisfied ActionStatus = "satisfied" // already in the desired state
	StatusPlanned   ActionStatus = "planned"   // would change (dry run)
	StatusApplied   ActionStatus = "applied"   // changed (real run)
	StatusFailed    ActionStatus = "failed"
)

// Action records the evaluation of one target item.
type Action struct {
	Kind   ActionKind   `json:"kind"`
	Target string       `json:"target"`
	Detail string       `json:"detail,omitempty"`
	Status ActionStatus `json:"status"`
}

// Report is the outcome of a reconciliation run.
type Report struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	DryRun    bool      `json:"dry_run"`
	Actions   []Action  `json:"actions"`
	Changes   []string  `json:"changes"`
	Warnings  []string  `json:"warnings"`
	Errors    []string  `json:"errors"`
}

func (r *Report) change(a Action, format string, args ...any) {
	r.Actions = append(r.Actions, a)
	r.Changes = append(r.Changes, fmt.Sprintf(format, args...))
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) fail(a Action, format string, args ...any) {
	a.Status = StatusFailed
	r.Actions = append(r.Actions, a)
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Reconciler evaluates snapshots against a live system.
type Reconciler struct {
	sys   System
	clock func() time.Time
}

// New creates a reconciler over the given system collaborator.
func New(sys System) *Reconciler {
	return &Reconciler{sys: sys, clock: time.Now}
}

// Reconcile evaluates every item in the snapshot against current system
// state. Under dry run no side effect occurs and satisfiable items are
// reported as planned; under real run the collaborator is invoked and each
// item reports applied or failed. Item failures never abort the run.
func (r *Reconciler) Reconcile(ctx context.Context, snap *hivescript.Snapshot, dryRun bool) *Report {
	start := r.clock()
	report := &Report{
		StartedAt: start,
		DryRun:    dryRun,
		Actions:   []Action{},
		Changes:   []string{},
		Warnings:  []string{},
		Errors:    []string{},
	}

	installed := r.installedSet(ctx, report)

	for _, pkg := range snap.Packages {
		r.reconcilePackage(ctx, report, pkg, installed, dryRun)
	}
	for _, cf := range snap.ConfigFiles {
		r.reconcileConfigFile(report, cf, dryRun)
	}
	for _, pc := range snap.PackageConfigs {
		r.reconcilePackageConfig(ctx, report, pc, installed, dryRun)
	}
	for _, tw := range snap.Tweaks {
		r.reconcileTweak(ctx, report, tw, dryRun)
	}
	for _, rc := range snap.RuntimeConfigs {
		r.reconcileRuntime(ctx, report, rc, dryRun)
	}

	report.Duration = time.Since(start).String()
	log.Printf("[INFO] Reconcile completed in %v: %d changes, %d warnings, %d errors (dry_run=%v)",
		time.Since(start), len(report.Changes), len(report.Warnings), len(report.Errors), dryRun)
	return report
}

// installedSet loads the current installed-package set once per run. A
// listing failure degrades to per-item membership checks.
func (r *Reconciler) installedSet(ctx context.Context, report *Report) map[string]bool {
	pkgs, err := r.sys.InstalledPackages(ctx)
	if err != nil {
		report.warn("could not list installed packages: %v", err)
		return nil
	}
	set := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		set[p.Name] = true
	}
	return set
}

func (r *Reconciler) isInstalled(ctx context.Context, name string, installed map[string]bool) bool {
	if installed != nil {
		return installed[name]
	}
	ok, err := r.sys.IsInstalled(ctx, name)
	if err != nil {
		log.Printf("[WARN] Install check for %s failed: %v", name, err)
		return false
	}
	return ok
}

// reconcilePackage checks membership by name only; a version mismatch on an
// installed package is not itself a trigger for action.
func (r *Reconciler) reconcilePackage(ctx context.Context, report *Report, pkg hivescript.Package, installed map[string]bool, dryRun bool) {
	if pkg.Name == "" {
		return
	}
	action := Action{Kind: ActionInstall, Target: pkg.Name, Detail: pkg.Version}

	if r.isInstalled(ctx, pkg.Name, installed) {
		action.Status = StatusSatisfied
		report.Actions = append(report.Actions, action)
		report.warn("package %s already installed", pkg.Name)
		return
	}

	if dryRun {
		action.Status = StatusPlanned
		report.change(action, "would install package %s", pkg.Name)
		return
	}

	if err := r.sys.Install(ctx, pkg.Name); err != nil {
		report.fail(action, "failed to install %s: %v", pkg.Name, err)
		return
	}
	action.Status = StatusApplied
	report.change(action, "installed package %s", pkg.Name)
}

// reconcileConfigFile decides create vs update on path presence alone; the
// on-disk content is not diffed here.
func (r *Reconciler) reconcileConfigFile(report *Report, cf hivescript.ConfigFile, dryRun bool) {
	if cf.Path == "" {
		return
	}

	kind := ActionCreate
	verb := "create"
	if _, err := r.sys.ReadFile(cf.Path); err == nil {
		kind = ActionUpdate
		verb = "update"
	}
	action := Action{Kind: kind, Target: cf.Path, Detail: fmt.Sprintf("%d settings", len(cf.Settings))}

	if dryRun {
		action.Status = StatusPlanned
		report.change(action, "would %s config %s (%d settings)", verb, cf.Path, len(cf.Settings))
		return
	}

	if err := r.sys.WriteFile(cf.Path, []byte(renderSettings(cf.Settings))); err != nil {
		report.fail(action, "failed to %s config %s: %v", verb, cf.Path, err)
		return
	}
	action.Status = StatusApplied
	report.change(action, "%sd config %s", verb, cf.Path)
}

func (r *Reconciler) reconcilePackageConfig(ctx context.Context, report *Report, pc hivescript.PackageConfig, installed map[string]bool, dryRun bool) {
	if pc.Package == "" {
		return
	}
	if !r.isInstalled(ctx, pc.Package, installed) {
		report.warn("skipping config for %s: %v", pc.Package, ErrPackageNotInstalled)
		return
	}

	action := Action{Kind: ActionConfigure, Target: pc.Package, Detail: pc.Path}
	if dryRun {
		action.Status = StatusPlanned
		report.change(action, "would configure %s (%s)", pc.Package, pc.Path)
		return
	}

	if err := r.sys.WriteFile(pc.Path, []byte(pc.Content)); err != nil {
		report.fail(action, "failed to configure %s: %v", pc.Package, err)
		return
	}
	action.Status = StatusApplied
	report.change(action, "configured %s (%s)", pc.Package, pc.Path)
}

// reconcileTweak always applies; there is no current-value check.
func (r *Reconciler) reconcileTweak(ctx context.Context, report *Report, tw hivescript.Tweak, dryRun bool) {
	action := Action{Kind: ActionTweak, Target: tw.Component, Detail: tw.Setting}

	if tw.Component == "sysctl" && !strings.Contains(tw.Setting, "=") {
		report.warn("malformed sysctl tweak %q: expected key=value", tw.Setting)
		return
	}

	if dryRun {
		action.Status = StatusPlanned
		report.change(action, "would apply tweak %s: %s", tw.Component, tw.Setting)
		return
	}

	if err := r.sys.ApplyTweak(ctx, tw.Component, tw.Setting); err != nil {
		report.fail(action, "failed to apply tweak %s: %v", tw.Component, err)
		return
	}
	action.Status = StatusApplied
	report.change(action, "applied tweak %s: %s", tw.Component, tw.Setting)
}

func (r *Reconciler) reconcileRuntime(ctx context.Context, report *Report, rc hivescript.RuntimeConfig, dryRun bool) {
	if rc.Application == "" || rc.Setting == "" {
		report.warn("skipping runtime config with empty application or setting")
		return
	}

	action := Action{Kind: ActionRuntime, Target: rc.Application, Detail: rc.Setting}
	if dryRun {
		action.Status = StatusPlanned
		report.change(action, "would apply %s setting: %s", rc.Application, rc.Setting)
		return
	}

	if err := r.sys.ApplyRuntime(ctx, rc.Application, rc.Setting); err != nil {
		if errors.Is(err, ErrUnknownApplication) {
			report.warn("unknown application %s, setting not applied", rc.Application)
			return
		}
		report.fail(action, "failed to apply %s setting: %v", rc.Application, err)
		return
	}
	action.Status = StatusApplied
	report.change(action, "applied %s setting: %s", rc.Application, rc.Setting)
}

// ErrUnknownApplication is returned by System.ApplyRuntime when it has no
// rc-file mapping for the application; the reconciler downgrades it to a
// warning.
var ErrUnknownApplication = errors.New("unknown application")

// renderSettings flattens a settings map to key=value lines, the form config
// files are written in when materialized from a snapshot.
func renderSettings(settings map[string]string) string {
	if len(settings) == 0 {
		return ""
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	// Sorted so repeated applies produce identical files.
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, settings[k])
	}
	return b.String()
}
