package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/pkg/attrs"
	"custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// captureHandler records log attrs as flattened key-value pairs so tests can
// assert on them with attrs.ExtractString.
type captureHandler struct {
	mu      sync.Mutex
	records [][]any
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	pairs := []any{"msg", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		pairs = append(pairs, a.Key, a.Value.String())
		return true
	})
	h.mu.Lock()
	h.records = append(h.records, pairs)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) last(t *testing.T) []any {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.records)
	return h.records[len(h.records)-1]
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seenID string
	var seenTime time.Time
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = requestcontext.RequestID(r.Context())
		seenTime = requestcontext.Now(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))
	assert.WithinDuration(t, time.Now(), seenTime, time.Minute)
}

func TestRequestID_PreservesInboundID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestLogger_RecordsRequestID(t *testing.T) {
	capture := &captureHandler{}
	logger := slog.New(capture)

	handler := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/wallets", nil)
	req.Header.Set("X-Request-ID", "req-log")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	pairs := capture.last(t)
	assert.Equal(t, "req-log", attrs.ExtractString(pairs, "request_id"))
	assert.Equal(t, "/wallets", attrs.ExtractString(pairs, "path"))
	assert.Equal(t, "418", attrs.ExtractString(pairs, "status"))
}

func TestRecovery_ConvertsPanicTo500(t *testing.T) {
	capture := &captureHandler{}
	handler := Recovery(slog.New(capture))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", attrs.ExtractString(capture.last(t), "panic"))
}

func TestContentTypeJSON_RejectsNonJSONBodies(t *testing.T) {
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.Header.Set("Content-Type", "text/plain")
	req.ContentLength = 4
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type staticValidator struct {
	caller domain.Address
	err    error
}

func (v staticValidator) ValidateToken(string) (domain.Address, error) {
	return v.caller, v.err
}

func TestRequireAuth_PlacesCallerInContext(t *testing.T) {
	var owner domain.Address
	owner[19] = 7

	var seen domain.Address
	handler := RequireAuth(staticValidator{caller: owner}, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestcontext.Caller(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, owner, seen)
}

func TestRequireAuth_RejectsMissingToken(t *testing.T) {
	handler := RequireAuth(staticValidator{}, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
