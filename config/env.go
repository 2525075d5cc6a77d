package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} references. Unset or empty
// variables without a default expand to "".
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	return envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
}

// LoadDotEnv loads .env files from the given paths and the working
// directory. Missing files are ignored and existing variables are never
// overwritten.
func LoadDotEnv(paths ...string) error {
	for _, path := range append(paths, ".env") {
		if path == "" {
			continue
		}
		if err := loadIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnvForConfig loads the .env next to the config file, then the one
// in the working directory.
func LoadDotEnvForConfig(configPath string) error {
	if configPath == "" {
		return LoadDotEnv()
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return LoadDotEnv()
	}
	return LoadDotEnv(filepath.Join(filepath.Dir(absPath), ".env"))
}

func loadIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
