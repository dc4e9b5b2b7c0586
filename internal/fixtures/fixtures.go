// Package fixtures loads and writes the JSON and text files the assistant
// is configured from: the agent config, the schema context and the
// ground-truth test cases.
package fixtures

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ConfigurationError marks a fixture that is missing or malformed. It is
// fatal at startup.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

type AgentConfig struct {
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
}

func LoadAgentConfig(path string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := readJSON(path, &cfg); err != nil {
		return AgentConfig{}, err
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return AgentConfig{}, &ConfigurationError{Path: path, Err: fmt.Errorf("system_prompt is required")}
	}
	if cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 1) {
		return AgentConfig{}, &ConfigurationError{Path: path, Err: fmt.Errorf("temperature must be within [0,1], got %v", *cfg.Temperature)}
	}
	return cfg, nil
}

// TemperatureOr returns the agent's own temperature when it sets one.
func (c AgentConfig) TemperatureOr(fallback float64) float64 {
	if c.Temperature != nil {
		return *c.Temperature
	}
	return fallback
}

func SaveAgentConfig(path string, cfg AgentConfig) error {
	return writeJSON(path, cfg)
}

func LoadSchemaContext(path string) (string, error) {
	raw, err := readFile(path)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", &ConfigurationError{Path: path, Err: fmt.Errorf("schema context is empty")}
	}
	return text, nil
}

// ComposeSystemPrompt appends the schema context to the agent prompt unless
// the prompt already carries it verbatim.
func ComposeSystemPrompt(cfg AgentConfig, schemaContext string) string {
	prompt := strings.TrimSpace(cfg.SystemPrompt)
	schemaContext = strings.TrimSpace(schemaContext)
	if schemaContext == "" || strings.Contains(prompt, schemaContext) {
		return prompt
	}
	return prompt + "\n\nSCHEMA CONTEXT:\n" + schemaContext
}

func readFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &ConfigurationError{Path: path, Err: fmt.Errorf("path is required")}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}
	return bytes.TrimPrefix(raw, utf8BOM), nil
}

func readJSON(path string, out any) error {
	raw, err := readFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ConfigurationError{Path: path, Err: fmt.Errorf("decode json: %w", err)}
	}
	return nil
}

// writeJSON writes through a temp file in the target directory and renames
// it into place.
func writeJSON(path string, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	encoded = append(encoded, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
