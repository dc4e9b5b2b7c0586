package api

import (
	"context"
	"net/http"
)

const factCountSQL = "SELECT COUNT(*) AS fact_rows FROM fact_animal_outcome"

type statusResponse struct {
	Service       string   `json:"service"`
	Model         string   `json:"model"`
	ModelReady    bool     `json:"model_ready"`
	ModelError    string   `json:"model_error,omitempty"`
	Models        []string `json:"available_models"`
	FactRows      *int64   `json:"fact_rows"`
	StoreError    string   `json:"store_error,omitempty"`
	PromptVersion string   `json:"prompt_version,omitempty"`
	Summaries     bool     `json:"summaries_enabled"`
}

// handleStatus reports each dependency separately; a down model endpoint
// still yields 200 so the UI can show it.
func handleStatus(service string, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	response := statusResponse{Service: service, Models: []string{}}
	if deps.Assistant != nil {
		cfg := deps.Assistant.Config()
		response.Model = cfg.ModelName
		response.PromptVersion = cfg.PromptVersion
		response.Summaries = cfg.SummaryEnabled
	}

	ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
	defer cancel()

	if deps.Models != nil {
		models, err := deps.Models.ListModels(ctx)
		if err != nil {
			response.ModelError = err.Error()
		} else {
			response.ModelReady = true
			response.Models = models
		}
	} else {
		response.ModelError = "model endpoint is not configured"
	}

	if deps.Executor != nil {
		result, err := deps.Executor.Execute(ctx, factCountSQL)
		switch {
		case err != nil:
			response.StoreError = err.Error()
		case result.RowCount() == 1 && len(result.Rows[0]) == 1:
			if count, ok := result.Rows[0][0].(int64); ok {
				response.FactRows = &count
			}
		}
	} else {
		response.StoreError = "warehouse is not configured"
	}

	writeJSON(w, http.StatusOK, response)
}
