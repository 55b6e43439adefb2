// Package paths resolves the platform-appropriate directories the update
// library uses for its persisted settings, catalog cache, staged
// downloads, and logs.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// appName is the directory component used under each platform's standard
// application-data location.
const appName = "Cumulus"

// DataDirectory returns the directory used to persist update-settings.json
// and update-cache.json for the given component (e.g. "updater"). A
// DOCKER environment variable takes precedence, matching a container
// deployment's mounted-volume convention; otherwise the platform's usual
// per-user application-data directory is used. The directory is created
// if it does not already exist.
func DataDirectory(component string) (string, error) {
	var dir string

	switch {
	case os.Getenv("DOCKER") != "":
		dir = filepath.Join("/var/lib", appName, component)
	default:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine user home directory: %w", err)
		}
		switch runtime.GOOS {
		case "windows":
			dir = filepath.Join(homeDir, "AppData", "Local", appName, component)
		case "darwin":
			dir = filepath.Join(homeDir, "Library", "Application Support", appName, component)
		default:
			dir = filepath.Join(homeDir, ".local", "share", appName, component)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// StagingDirectory returns the directory downloaded artifacts are staged
// into before verification, a subdirectory of the component's data
// directory so cleanup never has to reach outside a known root.
func StagingDirectory(component string) (string, error) {
	dataDir, err := DataDirectory(component)
	if err != nil {
		return "", err
	}
	staging := filepath.Join(dataDir, "updates")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return staging, nil
}

// LogDirectory returns the directory used for the component's rotating
// log files.
func LogDirectory(component string) (string, error) {
	var dir string

	switch {
	case os.Getenv("DOCKER") != "":
		dir = filepath.Join("/var/log", appName, component)
	default:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine user home directory: %w", err)
		}
		switch runtime.GOOS {
		case "windows":
			dir = filepath.Join(homeDir, "AppData", "Local", appName, component, "logs")
		case "darwin":
			dir = filepath.Join(homeDir, "Library", "Logs", appName, component)
		default:
			dir = filepath.Join(homeDir, ".local", "share", appName, component, "logs")
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return dir, nil
}

// SettingsPath returns the full path to update-settings.json for component.
func SettingsPath(component string) (string, error) {
	dir, err := DataDirectory(component)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "update-settings.json"), nil
}

// CachePath returns the full path to update-cache.json for component.
func CachePath(component string) (string, error) {
	dir, err := DataDirectory(component)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "update-cache.json"), nil
}
