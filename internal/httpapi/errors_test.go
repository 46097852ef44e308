package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"poslot/backend/internal/service"
	"poslot/backend/internal/store"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Forbidden", fmt.Errorf("distribution: %w", service.ErrForbidden), http.StatusForbidden},
		{"Validation", store.Invalid("cashier id is required"), http.StatusUnprocessableEntity},
		{"InvalidIndex", &store.LineError{Kind: store.ErrInvalidIndex, Line: 0, ItemIndex: 9}, http.StatusUnprocessableEntity},
		{"OverReturn", &store.LineError{Kind: store.ErrOverReturn, Line: 1, ItemIndex: 0}, http.StatusUnprocessableEntity},
		{"InsufficientStock", &store.InsufficientStockError{ProductID: "prd-mie-01", Requested: 3, Available: 1}, http.StatusConflict},
		{"Conflict", store.ErrConflict, http.StatusConflict},
		{"NotFound", store.ErrNotFound, http.StatusNotFound},
		{"Persistence", store.Persistence("save lot", errors.New("connection reset")), http.StatusServiceUnavailable},
		{"PersistenceWrappingConflict", fmt.Errorf("%w: %w", store.ErrPersistence, store.ErrConflict), http.StatusServiceUnavailable},
		{"Unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestWriteServiceErrorSetsRetryAfterOnConflict(t *testing.T) {
	api := &API{logger: zap.NewNop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil)

	api.writeServiceError(rec, req, fmt.Errorf("deplete: %w", store.ErrConflict))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Retryable)
}

func TestWriteServiceErrorHidesPersistenceDetail(t *testing.T) {
	api := &API{logger: zap.NewNop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)

	api.writeServiceError(rec, req, store.Persistence("create transaction", errors.New("pq: relation does not exist")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
}
