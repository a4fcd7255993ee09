package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var ErrExists = errors.New("config file already exists")

const fileHeader = "# updatekit configuration\n# Every key can be overridden with UPDATEKIT_<SECTION>_<KEY>, e.g. UPDATEKIT_AUTH_TOKEN.\n\n"

// WriteDefault writes cfg to path, as TOML when path ends in .toml and YAML
// otherwise. An existing file is only replaced when force is set.
func WriteDefault(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}

	body, err := encodeYAML(cfg)
	if err == nil && strings.EqualFold(filepath.Ext(path), ".toml") {
		body, err = yamlToTOML(body)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// The file may hold a bearer token.
	if err := os.WriteFile(path, append([]byte(fileHeader), body...), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func encodeYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// yamlToTOML re-encodes the YAML document so both formats share one set of
// keys.
func yamlToTOML(body []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return toml.Marshal(doc)
}
