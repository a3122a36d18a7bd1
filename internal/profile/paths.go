// Package profile resolves per-account directory layout under
// ~/.chatsync. Each logged-in account gets its own profile directory
// holding the replica database, logs, config, and daemon lock.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// BaseDir returns ~/.chatsync.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the replica database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "replica.db")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "logs", "chatsyncd.log")
}

// ConfigPath returns the profile config file path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// LockPath returns the daemon lock file path.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateName rejects profile names that would escape the profiles
// directory or produce surprising paths.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name is empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("profile name too long (max 64): %q", name)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: use letters, digits, - and _", name)
	}
	return nil
}

// EnsureDir creates the profile directory tree.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		filepath.Dir(LogPath(name)),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
