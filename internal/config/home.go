package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// HomeDirName is the per-project state directory
const HomeDirName = ".codeflow"

// GetCodeflowHome returns the codeflow home directory
// Priority order:
//  1. CODEFLOW_HOME environment variable (if set)
//  2. Enclosing project root (detected by a .codeflow-root marker or go.mod)
//  3. Current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetCodeflowHome() (string, error) {
	if home := os.Getenv("CODEFLOW_HOME"); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create codeflow home directory: %w", err)
		}
		return home, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	base := cwd
	if root, err := findProjectRoot(cwd); err == nil {
		base = root
	}

	home := filepath.Join(base, HomeDirName)
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create codeflow home directory: %w", err)
	}
	return home, nil
}

// findProjectRoot walks up from start looking for a .codeflow-root marker or a go.mod
func findProjectRoot(start string) (string, error) {
	current := start
	for {
		// The marker file takes priority over go.mod
		if _, err := os.Stat(filepath.Join(current, ".codeflow-root")); err == nil {
			return current, nil
		}
		if _, err := os.Stat(filepath.Join(current, "go.mod")); err == nil {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", fmt.Errorf("project root not found above %s (looking for .codeflow-root or go.mod)", start)
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Missing files are skipped; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load resolves the full configuration: .env files, then the YAML file, then
// environment overrides. path may be empty, in which case CODEFLOW_CONFIG or
// <home>/config.yaml is used.
func Load(path string) (*Config, string, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	home, err := GetCodeflowHome()
	if err != nil {
		return nil, "", err
	}

	if path == "" {
		path = os.Getenv("CODEFLOW_CONFIG")
	}
	if path == "" {
		path = filepath.Join(home, "config.yaml")
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", err
	}
	cfg.ResolvePaths(home)
	cfg.Repo.Path = expandHome(cfg.Repo.Path)
	return cfg, home, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if h, err := os.UserHomeDir(); err == nil {
			return filepath.Join(h, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
