package errorreporting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu    sync.Mutex
	errs  []error
	attrs []map[string]string
}

func (r *recordingReporter) CaptureException(_ context.Context, err error, attrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.attrs = append(r.attrs, attrs)
}

func (r *recordingReporter) Shutdown(context.Context) error { return nil }

func newRouter(reporter Reporter) http.Handler {
	r := chi.NewRouter()
	r.Use(NewMiddleware(reporter).Wrap)
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	return r
}

func TestMiddleware(t *testing.T) {
	t.Run("successful responses are not reported", func(t *testing.T) {
		reporter := &recordingReporter{}
		rec := httptest.NewRecorder()
		newRouter(reporter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, reporter.errs)
	})

	t.Run("5xx responses are reported with the route", func(t *testing.T) {
		reporter := &recordingReporter{}
		rec := httptest.NewRecorder()
		newRouter(reporter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		require.Len(t, reporter.errs, 1)
		assert.Equal(t, "502", reporter.attrs[0]["http.status"])
		assert.Equal(t, "/items/{id}", reporter.attrs[0]["http.route"])
		assert.Equal(t, "/items/42", reporter.attrs[0]["http.path"])
	})

	t.Run("panics become a bare 500", func(t *testing.T) {
		reporter := &recordingReporter{}
		rec := httptest.NewRecorder()
		newRouter(reporter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
		require.Len(t, reporter.errs, 1)
		assert.Equal(t, "true", reporter.attrs[0]["panic"])
		assert.Contains(t, reporter.errs[0].Error(), "boom")
	})

	t.Run("nil reporter leaves the handler untouched", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
		wrapped := NewMiddleware(nil).Wrap(handler)

		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	for _, provider := range []string{"", "console", "none", "off"} {
		reporter, err := New(ctx, Config{Provider: provider})
		require.NoError(t, err, provider)
		assert.NotNil(t, reporter)
	}

	t.Run("sentry without dsn falls back to console", func(t *testing.T) {
		reporter, err := New(ctx, Config{Provider: "sentry"})
		require.NoError(t, err)
		assert.IsType(t, &consoleReporter{}, reporter)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(ctx, Config{Provider: "rollbar"})
		assert.Error(t, err)
	})
}

func TestCapture(t *testing.T) {
	reporter := &recordingReporter{}
	Capture(context.Background(), reporter, nil, nil)
	Capture(context.Background(), nil, assert.AnError, nil)
	assert.Empty(t, reporter.errs)

	Capture(context.Background(), reporter, assert.AnError, map[string]string{"k": "v"})
	require.Len(t, reporter.errs, 1)
	assert.Equal(t, "v", reporter.attrs[0]["k"])
}
