package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables that override recognition credentials from the file.
const (
	EnvAccessKey    = "SONGID_ACCESS_KEY"
	EnvAccessSecret = "SONGID_ACCESS_SECRET"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
// Credentials from the environment take precedence over the file.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	cfg := Default()
	var warnings []Warning
	exists := true

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		exists = false
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		cfg, warnings, err = decode(string(content), cfg)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
	}

	applyEnvironment(&cfg, os.Getenv)

	validated, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("validate config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: append(warnings, validated...),
		Exists:   exists,
	}, nil
}

func applyEnvironment(cfg *Config, getenv func(string) string) {
	if key := strings.TrimSpace(getenv(EnvAccessKey)); key != "" {
		cfg.Recognition.AccessKey = key
	}
	if secret := strings.TrimSpace(getenv(EnvAccessSecret)); secret != "" {
		cfg.Recognition.AccessSecret = secret
	}
}
