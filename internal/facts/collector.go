package facts

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"archhive/internal/hivescript"
)

// Collector gathers a full snapshot of the current system. Every fact is
// best-effort: a fact that cannot be gathered is omitted from the snapshot,
// never fatal.
type Collector struct {
	rules  *CaptureRules
	pacman string
}

// NewCollector builds a collector using the given capture rules and package
// manager command.
func NewCollector(rules *CaptureRules, pacmanCmd string) *Collector {
	if pacmanCmd == "" {
		pacmanCmd = "pacman"
	}
	return &Collector{rules: rules, pacman: pacmanCmd}
}

// Snapshot collects all facts and assembles them into a snapshot with the
// compiled-in spec version, system type "arch", and scope "full".
func (c *Collector) Snapshot(ctx context.Context) *hivescript.Snapshot {
	start := time.Now()
	snap := hivescript.NewSnapshot()
	snap.Version = hivescript.SpecVersion
	snap.System = "arch"
	snap.Scope = "full"

	if kernel, err := runCommand(ctx, "uname", "-r"); err == nil {
		snap.Kernel = kernel
	} else {
		log.Printf("[WARN] Could not read kernel version: %v", err)
	}

	snap.CPU = cpuModel()
	snap.Memory = memoryTotal()

	if gpu, err := c.gpu(ctx); err == nil {
		snap.GPU = gpu
	}
	if disk, err := c.disk(ctx); err == nil {
		snap.Disk = disk
	}

	pkgs, err := c.InstalledPackages(ctx)
	if err != nil {
		log.Printf("[WARN] Could not list installed packages: %v", err)
	}
	snap.Packages = pkgs

	if c.rules != nil {
		snap.ConfigFiles = c.captureConfigs()
		snap.Tweaks = c.captureTweaks()
	}

	log.Printf("[INFO] Collected snapshot in %v: %d packages, %d configs, %d tweaks",
		time.Since(start), len(snap.Packages), len(snap.ConfigFiles), len(snap.Tweaks))
	return snap
}

// InstalledPackages lists explicitly installed packages via the package
// manager.
func (c *Collector) InstalledPackages(ctx context.Context) ([]hivescript.Package, error) {
	out, err := runCommand(ctx, c.pacman, "-Qe")
	if err != nil {
		return []hivescript.Package{}, err
	}
	return ParsePackageList(out), nil
}

// ParsePackageList parses "name version" lines as produced by pacman -Q.
func ParsePackageList(out string) []hivescript.Package {
	var pkgs []hivescript.Package
	for line := range strings.SplitSeq(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pkgs = append(pkgs, hivescript.Package{Name: fields[0], Version: fields[1]})
	}
	if pkgs == nil {
		pkgs = []hivescript.Package{}
	}
	return pkgs
}

// cpuModel reads the first "model name" entry from /proc/cpuinfo.
func cpuModel() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return ""
	}
	return ParseCPUInfo(string(data))
}

// ParseCPUInfo extracts the first model name from /proc/cpuinfo content.
func ParseCPUInfo(content string) string {
	for line := range strings.SplitSeq(content, "\n") {
		if !strings.HasPrefix(line, "model name") {
			continue
		}
		if _, value, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// memoryTotal reads MemTotal from /proc/meminfo, formatted as "<n>MB".
func memoryTotal() string {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return ""
	}
	return ParseMemInfo(string(data))
}

// ParseMemInfo extracts MemTotal from /proc/meminfo content and converts the
// kilobyte figure to megabytes.
func ParseMemInfo(content string) string {
	for line := range strings.SplitSeq(content, "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return ""
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("%dMB", kb/1024)
	}
	return ""
}

// gpu returns the first VGA/3D controller line from lspci.
func (*Collector) gpu(ctx context.Context) (string, error) {
	out, err := runCommand(ctx, "lspci")
	if err != nil {
		return "", err
	}
	for line := range strings.SplitSeq(out, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "vga") || strings.Contains(lower, "3d controller") {
			return strings.TrimSpace(line), nil
		}
	}
	return "", fmt.Errorf("no display controller in lspci output")
}

// disk summarizes the root filesystem from df.
func (*Collector) disk(ctx context.Context) (string, error) {
	out, err := runCommand(ctx, "df", "-h", "/")
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return "", fmt.Errorf("unexpected df output")
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 5 {
		return "", fmt.Errorf("unexpected df output")
	}
	return fmt.Sprintf("%s %s used of %s (%s)", fields[0], fields[2], fields[1], fields[4]), nil
}

// captureConfigs reads each rule's config file and extracts the configured
// settings. Missing files are skipped silently; they are simply not part of
// this machine's configuration.
func (c *Collector) captureConfigs() []hivescript.ConfigFile {
	configs := []hivescript.ConfigFile{}
	for _, rule := range c.rules.Configs {
		data, err := os.ReadFile(rule.Path)
		if err != nil {
			continue
		}
		settings := ExtractSettings(string(data), rule.Keys)
		if len(settings) == 0 {
			continue
		}
		configs = append(configs, hivescript.ConfigFile{Path: rule.Path, Settings: settings})
	}
	return configs
}

// captureTweaks reads the current value of each configured sysctl key from
// /proc/sys.
func (c *Collector) captureTweaks() []hivescript.Tweak {
	tweaks := []hivescript.Tweak{}
	for _, key := range c.rules.Sysctls {
		path := "/proc/sys/" + strings.ReplaceAll(key, ".", "/")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		value := strings.TrimSpace(string(data))
		tweaks = append(tweaks, hivescript.Tweak{
			Component: "sysctl",
			Setting:   fmt.Sprintf("%s=%s", key, value),
		})
	}
	return tweaks
}

// ExtractSettings scans file content for key=value assignments. When keys is
// non-empty only those keys are kept; comments and blank lines are ignored.
func ExtractSettings(content string, keys []string) map[string]string {
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	settings := make(map[string]string)
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		if len(wanted) > 0 && !wanted[key] {
			continue
		}
		settings[key] = value
	}
	return settings
}
