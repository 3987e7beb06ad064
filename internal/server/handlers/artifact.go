package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/factgate/factgate/internal/errors"
	"github.com/factgate/factgate/internal/server/middleware"
	"github.com/factgate/factgate/pkg/resultstore"
)

// Artifacts serves stored artifact content for filesystem-backed
// result stores. S3-backed deployments hand out presigned URLs and
// never route retrieval through this handler, so reader may be nil.
type Artifacts struct {
	reader resultstore.ContentReader
}

// NewArtifacts creates the artifact retrieval endpoint.
func NewArtifacts(reader resultstore.ContentReader) *Artifacts {
	return &Artifacts{reader: reader}
}

// Get serves GET /jobs/{jobID}/artifact?token=... by redeeming the
// signed token minted by GetStatus.
func (h *Artifacts) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if h.reader == nil {
		apperrors.WriteHTTPCode(w, http.StatusNotFound, string(apperrors.KindNotFound),
			"artifact retrieval is served by the storage backend", requestID)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		apperrors.WriteHTTP(w, apperrors.New(apperrors.KindInvalidInput, "missing retrieval token"), requestID)
		return
	}

	ref, err := h.reader.Redeem(token)
	if err != nil {
		switch {
		case apperrors.Is(err, resultstore.ErrHandleExpired):
			apperrors.WriteHTTPCode(w, http.StatusGone, "HANDLE_EXPIRED",
				"retrieval handle has expired; fetch the job status for a fresh one", requestID)
		default:
			apperrors.WriteHTTP(w, apperrors.New(apperrors.KindInvalidInput, "retrieval token is invalid"), requestID)
		}
		return
	}

	// The token is scoped to a single ref; a mismatched path is a
	// client error even with a valid signature.
	if jobID := chi.URLParam(r, "jobID"); jobID != ref {
		apperrors.WriteHTTP(w, apperrors.New(apperrors.KindInvalidInput, "retrieval token does not match job"), requestID)
		return
	}

	content, err := h.reader.Open(r.Context(), ref)
	if err != nil {
		if resultstore.IsNotFound(err) {
			apperrors.WriteHTTP(w, apperrors.Newf(apperrors.KindNotFound, "artifact for job %s not found", ref), requestID)
			return
		}
		apperrors.WriteHTTP(w, apperrors.Wrap(apperrors.KindStorage, "read artifact", err), requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
