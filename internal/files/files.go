// Package files locates and prepares the directories mcpshield reads from and writes to.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/perms"
)

const (
	// EnvVarXDGConfigHome is the XDG Base Directory env var name for config files.
	EnvVarXDGConfigHome = "XDG_CONFIG_HOME"

	// SkillFileName is the file that marks a directory as a skill.
	SkillFileName = "SKILL.md"
)

// AppDirName returns the name of the application directory used under the XDG base directories.
func AppDirName() string {
	return "mcpshield"
}

// DefaultSkillsDir returns the directory scanned for skills when none is configured: <config dir>/skills.
func DefaultSkillsDir() (string, error) {
	dir, err := UserSpecificConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "skills"), nil
}

// DiscoverSkills scans dir and returns the skill directories it contains, keyed by directory name.
// A skill directory holds a regular SKILL.md file. Hidden entries and plain files are skipped.
// Only names present in allowed are included when allowed is non-nil.
func DiscoverSkills(dir string, allowed map[string]struct{}) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	skills := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[name]; !ok {
				continue
			}
		}

		skillDir := filepath.Join(dir, name)

		// Follow symlinks so linked skill checkouts are found.
		info, err := os.Stat(skillDir)
		if err != nil || !info.IsDir() {
			continue
		}

		md, err := os.Stat(filepath.Join(skillDir, SkillFileName))
		if err != nil || !md.Mode().IsRegular() {
			continue
		}

		skills[name] = skillDir
	}

	return skills, nil
}

// EnsureAtLeastRegularDir creates path with perms.RegularDir when missing, and otherwise checks that its
// permissions are no wider than that.
func EnsureAtLeastRegularDir(path string) error {
	return ensureAtLeastDir(path, perms.RegularDir)
}

// UserSpecificConfigDir returns $XDG_CONFIG_HOME/mcpshield, or ~/.config/mcpshield.
func UserSpecificConfigDir() (string, error) {
	return userSpecificDir(EnvVarXDGConfigHome, ".config")
}

// ensureAtLeastDir never repairs ownership or permissions; wrong ones are an error.
// Symlinked directories are rejected. Only the final path element is checked.
func ensureAtLeastDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("could not ensure directory exists for '%s': %w", path, err)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("could not stat directory '%s': %w", path, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return fmt.Errorf("path '%s' is a symlink, not a directory", path)
	case !info.IsDir():
		return fmt.Errorf("path '%s' is not a directory", path)
	case !perms.Within(info.Mode(), perm):
		return fmt.Errorf(
			"incorrect permissions for directory '%s' (%#o, want %#o or more restrictive)",
			path,
			info.Mode().Perm(),
			perm,
		)
	}

	return nil
}

// userSpecificDir resolves an XDG base directory, falling back to ~/<dir>/<AppDirName()>.
func userSpecificDir(envVar string, dir string) (string, error) {
	envVar = strings.TrimSpace(envVar)
	if !strings.HasPrefix(envVar, "XDG_") {
		return "", fmt.Errorf(
			"environment variable '%s' does not follow XDG Base Directory Specification",
			envVar,
		)
	}

	if v, ok := os.LookupEnv(envVar); ok && strings.TrimSpace(v) != "" {
		base := strings.TrimSpace(v)
		if !filepath.IsAbs(base) {
			return "", fmt.Errorf("environment variable '%s' must be an absolute path, got: %s", envVar, base)
		}
		return filepath.Join(base, AppDirName()), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, dir, AppDirName()), nil
}
