package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"poslot/backend/internal/service"
	"poslot/backend/internal/store"
)

const retryAfterSeconds = "1"

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Line      *int   `json:"line,omitempty"`
	ItemIndex *int   `json:"item_index,omitempty"`
	Field     string `json:"field,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

// statusForError maps service and store error kinds to HTTP status codes.
// Persistence is checked first because a persistence failure may wrap a
// conflict raised further down.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInvalidIndex), errors.Is(err, store.ErrOverReturn):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	body := errorBody{Error: err.Error(), Retryable: store.IsRetryable(err)}

	var lineErr *store.LineError
	if errors.As(err, &lineErr) {
		line, index := lineErr.Line, lineErr.ItemIndex
		body.Line = &line
		body.ItemIndex = &index
		body.Field = lineErr.Field
	}
	var shortfall *store.InsufficientStockError
	if errors.As(err, &shortfall) {
		available := shortfall.Available
		body.ProductID = shortfall.ProductID
		body.Requested = shortfall.Requested
		body.Available = &available
	}

	if body.Retryable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status >= 500 {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}
