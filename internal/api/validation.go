package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shelterql/shelterql/internal/auth"
	"github.com/shelterql/shelterql/internal/validation"
)

// archiveAllowance covers archiving and encoding once every case is done.
const archiveAllowance = 30 * time.Second

type validationRunRequest struct {
	CaseIDs []int `json:"case_ids"`
	Archive *bool `json:"archive"`
}

type validationRunResponse struct {
	Report  validation.Report         `json:"report"`
	Archive *validation.ArchiveResult `json:"archive,omitempty"`
}

func handleValidationRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Validation == nil || len(deps.Suite.TestCases) == 0 {
		writeError(r.Context(), w, http.StatusNotImplemented, "VALIDATION_NOT_CONFIGURED", "validation harness is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleValidate); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request validationRunRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validation request body", false, map[string]any{"details": err.Error()})
		return
	}

	cases := deps.Suite.Filter(request.CaseIDs)
	if len(cases) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "NO_CASES_SELECTED", "no test cases match the requested ids", false, map[string]any{"case_ids": request.CaseIDs})
		return
	}

	extendWriteDeadline(deps, w, r, deps.Validation.Budget(len(cases)))
	report := deps.Validation.Run(r.Context(), cases)
	response := validationRunResponse{Report: report}

	archive := deps.Archiver != nil
	if request.Archive != nil {
		archive = archive && *request.Archive
	}
	if archive {
		result, err := deps.Archiver.Archive(r.Context(), report)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_FAILED", "validation report could not be archived", true, map[string]any{
				"details": err.Error(),
				"report":  report,
			})
			return
		}
		response.Archive = &result
	}
	writeJSON(w, http.StatusOK, response)
}

// extendWriteDeadline lifts the server write timeout for a run that can
// outlast it. A zero budget removes the deadline.
func extendWriteDeadline(deps Dependencies, w http.ResponseWriter, r *http.Request, budget time.Duration) {
	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget + archiveAllowance)
	}
	err := http.NewResponseController(w).SetWriteDeadline(deadline)
	if err != nil && !errors.Is(err, http.ErrNotSupported) && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "validation_write_deadline_failed", slog.Any("error", err))
	}
}
