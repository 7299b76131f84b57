package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		incomingID string
	}{
		{name: "purchase accepted", status: http.StatusOK, body: `{"status":"submitted"}`},
		{name: "provider unavailable", status: http.StatusServiceUnavailable, body: `{"error":"provider unavailable"}`},
		{name: "webhook with caller id", status: http.StatusOK, body: `{"status":"ok"}`, incomingID: "provider-77"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
			if tt.incomingID != "" {
				req.Header.Set("X-Request-ID", tt.incomingID)
			}
			rr := httptest.NewRecorder()

			LoggingMiddleware(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.body, rr.Body.String())

			reqID := rr.Header().Get("X-Request-ID")
			assert.Equal(t, seen, reqID)
			if tt.incomingID != "" {
				assert.Equal(t, tt.incomingID, reqID)
				return
			}
			_, err := uuid.Parse(reqID)
			assert.NoError(t, err)
		})
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}
