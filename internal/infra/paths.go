package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const AppName = "invest-tracker"

// portableDir holds all runtime data when it exists in the working directory.
const portableDir = "_workspace"

// UserAgent is sent on every outbound HTTP and WebSocket request.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("%s/%s (%s; %s)", AppName, version, runtime.GOOS, runtime.GOARCH)
}

// GetWorkspaceDir returns the root directory for runtime data: the portable
// "_workspace" directory when present, else AppName under the OS data dir.
func GetWorkspaceDir() string {
	if isDir(portableDir) {
		return portableDir
	}
	root := osDataHome()
	if root == "" {
		return portableDir
	}
	return filepath.Join(root, AppName)
}

func osDataHome() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return dir
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support")
	case "linux":
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return dir
		}
		return filepath.Join(home, ".local", "share")
	}
	return ""
}

// UserDataDir returns the per-user directory under the workspace, so one
// account's cached watchlist is never read by another.
func UserDataDir(workDir, userID string) string {
	return filepath.Join(workDir, "users", pathSegment(userID))
}

// pathSegment maps a user id to a single safe directory name.
func pathSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_.", r) {
			return r
		}
		return '_'
	}, strings.TrimSpace(s))

	if s == "" || strings.Trim(s, ".") == "" {
		return "_"
	}
	return s
}

// EnsureDir creates path and its parents (0755).
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile claims workDir for this process. A second claim fails until
// the returned release func removes the lock.
func CreateLockFile(workDir string) (release func(), err error) {
	lockPath := filepath.Join(workDir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath returns the first existing config.yaml among
// ./configs and the OS config dir, defaulting to ./configs.
func ResolveConfigPath() string {
	candidates := []string{filepath.Join("configs", "config.yaml")}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, AppName, "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[0]
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
