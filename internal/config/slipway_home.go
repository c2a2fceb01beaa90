package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetSlipwayHome returns the slipway home directory
// Priority order:
//  1. SLIPWAY_HOME environment variable (if set)
//  2. Repository root (detected by a .slipway-root marker or go.mod)
//  3. Current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetSlipwayHome() (string, error) {
	// Try env var first
	if home := os.Getenv("SLIPWAY_HOME"); home != "" {
		return home, nil
	}

	// Try to find the repo root
	repoRoot, err := findRepoRoot()
	if err == nil && repoRoot != "" {
		slipwayHome := filepath.Join(repoRoot, ".slipway")
		if err := os.MkdirAll(slipwayHome, 0755); err != nil {
			return "", fmt.Errorf("create slipway home directory: %w", err)
		}
		return slipwayHome, nil
	}

	// Fallback to current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	slipwayHome := filepath.Join(cwd, ".slipway")
	if err := os.MkdirAll(slipwayHome, 0755); err != nil {
		return "", fmt.Errorf("create slipway home directory: %w", err)
	}

	return slipwayHome, nil
}

// findRepoRoot walks up from the working directory looking for a
// .slipway-root marker file or a go.mod / .git entry
func findRepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	current := cwd
	for {
		// Marker file takes priority
		markerPath := filepath.Join(current, ".slipway-root")
		if _, err := os.Stat(markerPath); err == nil {
			return current, nil
		}

		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current, nil
		}

		if data, err := os.ReadFile(filepath.Join(current, "go.mod")); err == nil {
			if strings.Contains(string(data), "module ") {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root
			break
		}
		current = parent
	}

	return "", fmt.Errorf("repository root not found (looking for .slipway-root, .git, or go.mod)")
}

// GetHistoryDBPath returns the absolute path to the run history database
// Always returns: $SLIPWAY_HOME/history/runs.db
func GetHistoryDBPath() (string, error) {
	home, err := GetSlipwayHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "history", "runs.db"), nil
}

// GetHistoryDir returns the history directory path, creating it if needed
func GetHistoryDir() (string, error) {
	home, err := GetSlipwayHome()
	if err != nil {
		return "", err
	}

	historyDir := filepath.Join(home, "history")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return "", fmt.Errorf("create history directory: %w", err)
	}
	return historyDir, nil
}

// GetCacheDir returns the download cache directory, creating it if needed
func GetCacheDir() (string, error) {
	home, err := GetSlipwayHome()
	if err != nil {
		return "", err
	}

	cacheDir := filepath.Join(home, "cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}
	return cacheDir, nil
}
