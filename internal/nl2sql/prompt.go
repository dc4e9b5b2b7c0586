package nl2sql

import (
	"fmt"
	"strings"
)

const promptSuffix = "Generate SQL query:"

// BuildPrompt lays out the system prompt, the question and the fixed
// instruction suffix separated by blank lines.
func BuildPrompt(systemPrompt, question string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", fmt.Errorf("system prompt is required")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}
	return systemPrompt + "\n\nQuestion: " + question + "\n\n" + promptSuffix, nil
}

func NewGenerationRequest(systemPrompt, question string, temperature float64) (GenerationRequest, error) {
	if temperature < 0 || temperature > 1 {
		return GenerationRequest{}, fmt.Errorf("temperature must be within [0,1], got %v", temperature)
	}
	if _, err := BuildPrompt(systemPrompt, question); err != nil {
		return GenerationRequest{}, err
	}
	return GenerationRequest{
		Question:     strings.TrimSpace(question),
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
	}, nil
}

// Prompt renders the request with BuildPrompt.
func (r GenerationRequest) Prompt() string {
	prompt, err := BuildPrompt(r.SystemPrompt, r.Question)
	if err != nil {
		return ""
	}
	return prompt
}
