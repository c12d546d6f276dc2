package facts

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"archhive/internal/hivescript"
	"archhive/internal/reconcile"
)

const (
	configDirPerm  = 0o755
	configFilePerm = 0o644
)

// Pacman applies snapshot items to the live system through the pacman
// package manager, sysctl, and per-application rc files. It implements
// reconcile.System.
type Pacman struct {
	command   string
	noConfirm bool
	home      string
}

// NewPacman builds the live-system collaborator. When home is empty the
// current user's home directory is used for rc-file resolution.
func NewPacman(command string, noConfirm bool, home string) *Pacman {
	if command == "" {
		command = "pacman"
	}
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}
	return &Pacman{command: command, noConfirm: noConfirm, home: home}
}

// InstalledPackages lists everything pacman knows as installed.
func (p *Pacman) InstalledPackages(ctx context.Context) ([]hivescript.Package, error) {
	out, err := runCommand(ctx, p.command, "-Q")
	if err != nil {
		return nil, err
	}
	return ParsePackageList(out), nil
}

// IsInstalled checks membership by name via pacman's query interface.
func (p *Pacman) IsInstalled(ctx context.Context, name string) (bool, error) {
	code, err := exitCode(ctx, p.command, "-Qi", name)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// Install installs one package by name.
func (p *Pacman) Install(ctx context.Context, name string) error {
	args := []string{"-S", "--needed"}
	if p.noConfirm {
		args = append(args, "--noconfirm")
	}
	args = append(args, name)

	log.Printf("[INFO] Installing package %s", name)
	if _, err := runCommand(ctx, p.command, args...); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	return nil
}

// ReadFile reads a file from disk, expanding a leading ~.
func (p *Pacman) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(p.expand(path))
}

// WriteFile writes a file, creating parent directories as needed.
func (p *Pacman) WriteFile(path string, data []byte) error {
	path = p.expand(path)
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ApplyTweak applies a system tweak. Only the sysctl component is supported;
// its setting must be key=value.
func (p *Pacman) ApplyTweak(ctx context.Context, component, setting string) error {
	if component != "sysctl" {
		return fmt.Errorf("unsupported tweak component %q", component)
	}
	if !strings.Contains(setting, "=") {
		return fmt.Errorf("sysctl tweak %q is not key=value", setting)
	}
	if _, err := runCommand(ctx, "sysctl", "-w", setting); err != nil {
		return fmt.Errorf("apply sysctl %s: %w", setting, err)
	}
	return nil
}

// rcFiles maps runtime-config applications to the rc file the setting is
// appended to.
var rcFiles = map[string]string{
	"neovim": ".config/nvim/init.vim",
	"nvim":   ".config/nvim/init.vim",
	"zsh":    ".zshrc",
	"bash":   ".bashrc",
}

// ApplyRuntime appends a per-application setting to the application's rc
// file, unless an identical line is already present.
func (p *Pacman) ApplyRuntime(_ context.Context, application, setting string) error {
	rel, ok := rcFiles[application]
	if !ok {
		return fmt.Errorf("%w: %s", reconcile.ErrUnknownApplication, application)
	}
	path := filepath.Join(p.home, rel)

	if existing, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(existing), "\n") {
			if strings.TrimSpace(line) == setting {
				return nil // already present
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, configFilePerm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("[WARN] Error closing %s: %v", path, err)
		}
	}()

	if _, err := fmt.Fprintf(f, "%s\n", setting); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// expand resolves a leading ~/ against the configured home directory.
func (p *Pacman) expand(path string) string {
	if strings.HasPrefix(path, "~/") && p.home != "" {
		return filepath.Join(p.home, path[2:])
	}
	return path
}
