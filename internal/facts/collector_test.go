package facts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePackageList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string // "name version"
	}{
		{
			name: "typical output",
			in:   "firefox 121.0-1\nvim 9.0.2167-1\nzsh 5.9-4\n",
			want: []string{"firefox 121.0-1", "vim 9.0.2167-1", "zsh 5.9-4"},
		},
		{
			name: "empty output",
			in:   "",
			want: []string{},
		},
		{
			name: "skips malformed lines",
			in:   "firefox 121.0-1\nbroken\n\nvim 9.0.2167-1",
			want: []string{"firefox 121.0-1", "vim 9.0.2167-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkgs := ParsePackageList(tt.in)
			if len(pkgs) != len(tt.want) {
				t.Fatalf("got %d packages, want %d", len(pkgs), len(tt.want))
			}
			for i, pkg := range pkgs {
				got := pkg.Name + " " + pkg.Version
				if got != tt.want[i] {
					t.Errorf("package %d: got %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestParseCPUInfo(t *testing.T) {
	content := `processor	: 0
vendor_id	: AuthenticAMD
model name	: AMD Ryzen 7 5800X 8-Core Processor
processor	: 1
model name	: AMD Ryzen 7 5800X 8-Core Processor
`
	got := ParseCPUInfo(content)
	want := "AMD Ryzen 7 5800X 8-Core Processor"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := ParseCPUInfo("no cpu lines here"); got != "" {
		t.Errorf("expected empty model for garbage input, got %q", got)
	}
}

func TestParseMemInfo(t *testing.T) {
	content := `MemTotal:       32768000 kB
MemFree:        12345678 kB
`
	got := ParseMemInfo(content)
	want := "32000MB"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := ParseMemInfo("MemFree: 100 kB"); got != "" {
		t.Errorf("expected empty for missing MemTotal, got %q", got)
	}
	if got := ParseMemInfo("MemTotal: garbage kB"); got != "" {
		t.Errorf("expected empty for unparseable MemTotal, got %q", got)
	}
}

func TestExtractSettings(t *testing.T) {
	content := `# pacman.conf
ParallelDownloads = 5
Color
CheckSpace=yes
; semicolon comment
Architecture = auto

bad key = nope
`
	t.Run("filtered keys", func(t *testing.T) {
		settings := ExtractSettings(content, []string{"ParallelDownloads", "CheckSpace"})
		if len(settings) != 2 {
			t.Fatalf("got %d settings, want 2: %v", len(settings), settings)
		}
		if settings["ParallelDownloads"] != "5" {
			t.Errorf("ParallelDownloads = %q, want 5", settings["ParallelDownloads"])
		}
		if settings["CheckSpace"] != "yes" {
			t.Errorf("CheckSpace = %q, want yes", settings["CheckSpace"])
		}
	})

	t.Run("all keys", func(t *testing.T) {
		settings := ExtractSettings(content, nil)
		// "Color" has no =, "bad key" has a space in the key.
		if len(settings) != 3 {
			t.Fatalf("got %d settings, want 3: %v", len(settings), settings)
		}
		if settings["Architecture"] != "auto" {
			t.Errorf("Architecture = %q, want auto", settings["Architecture"])
		}
	})
}

func TestDefaultRules(t *testing.T) {
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules: %v", err)
	}
	if len(rules.Configs) == 0 {
		t.Error("embedded rules have no config entries")
	}
	if len(rules.Sysctls) == 0 {
		t.Error("embedded rules have no sysctl entries")
	}
	for _, rule := range rules.Configs {
		if rule.Path == "" {
			t.Error("config rule with empty path")
		}
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `configs:
  - path: /etc/pacman.conf
    keys: [ParallelDownloads]
sysctls:
  - vm.swappiness
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules.Configs) != 1 || rules.Configs[0].Path != "/etc/pacman.conf" {
		t.Errorf("unexpected configs: %+v", rules.Configs)
	}
	if len(rules.Sysctls) != 1 || rules.Sysctls[0] != "vm.swappiness" {
		t.Errorf("unexpected sysctls: %v", rules.Sysctls)
	}

	if _, err := LoadRules(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing rules file")
	}
}
