package fixtures

import (
	"errors"
	"fmt"
	"strings"
)

var ErrFragmentNotFound = errors.New("prompt fragment not found")

type PromptPatch struct {
	Old         string
	New         string
	Version     string
	Description string
}

// ApplyPromptPatch replaces every occurrence of patch.Old in the system
// prompt and stamps the new version and description. The config is left
// untouched when the fragment is absent.
func ApplyPromptPatch(cfg AgentConfig, patch PromptPatch) (AgentConfig, int, error) {
	if patch.Old == "" {
		return cfg, 0, fmt.Errorf("old fragment is required")
	}
	count := strings.Count(cfg.SystemPrompt, patch.Old)
	if count == 0 {
		return cfg, 0, ErrFragmentNotFound
	}
	cfg.SystemPrompt = strings.ReplaceAll(cfg.SystemPrompt, patch.Old, patch.New)
	if strings.TrimSpace(patch.Version) != "" {
		cfg.Version = strings.TrimSpace(patch.Version)
	}
	if strings.TrimSpace(patch.Description) != "" {
		cfg.Description = strings.TrimSpace(patch.Description)
	}
	return cfg, count, nil
}
