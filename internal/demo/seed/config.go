package seed

import (
	"fmt"
	"strconv"
	"strings"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Path               string
	Rows               int
	Seed               int64
	IncludeNullOutcome bool
	Overwrite          bool
}

func DefaultConfig() Config {
	return Config{
		Path: "animal_shelter.duckdb",
		Rows: 5000,
		Seed: 20160101,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if raw, ok := lookup("SHELTERQL_DEMO_PATH"); ok {
		cfg.Path = strings.TrimSpace(raw)
	}
	if err := applyInt(lookup, "SHELTERQL_DEMO_ROWS", &cfg.Rows); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "SHELTERQL_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHELTERQL_DEMO_INCLUDE_NULL_OUTCOME", &cfg.IncludeNullOutcome); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SHELTERQL_DEMO_OVERWRITE", &cfg.Overwrite); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("SHELTERQL_DEMO_PATH is required")
	}
	if c.Rows <= 0 {
		return fmt.Errorf("SHELTERQL_DEMO_ROWS must be > 0")
	}
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
