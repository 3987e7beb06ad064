package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/factgate/factgate/internal/errors"
	"github.com/factgate/factgate/internal/server/middleware"
	"github.com/factgate/factgate/pkg/orchestrator"
)

// maxSubmitBody bounds POST /jobs request bodies.
const maxSubmitBody = 1 << 20

// Jobs exposes the orchestrator over HTTP.
type Jobs struct {
	orch *orchestrator.Orchestrator
}

// NewJobs creates the job endpoints.
func NewJobs(orch *orchestrator.Orchestrator) *Jobs {
	return &Jobs{orch: orch}
}

// Submit serves POST /jobs. A new job answers 202 Accepted; a
// duplicate of a live job answers 200 with the existing handle.
func (h *Jobs) Submit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody))
	if err != nil {
		apperrors.WriteHTTP(w, apperrors.Wrap(apperrors.KindInvalidInput, "read request body", err), requestID)
		return
	}

	handle, err := h.orch.Submit(r.Context(), body)
	if err != nil {
		apperrors.WriteHTTP(w, err, requestID)
		return
	}

	status := http.StatusAccepted
	if !handle.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, handle)
}

// Status serves GET /jobs/{jobID}. In-flight jobs answer 202, terminal
// jobs 200.
func (h *Jobs) Status(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "jobID")

	view, err := h.orch.GetStatus(r.Context(), jobID)
	if err != nil {
		apperrors.WriteHTTP(w, err, requestID)
		return
	}

	status := http.StatusOK
	if !view.State.Terminal() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, view)
}

// Cancel serves POST /jobs/{jobID}/cancel.
func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "jobID")

	view, err := h.orch.Cancel(r.Context(), jobID)
	if err != nil {
		apperrors.WriteHTTP(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
