package errorreporting

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type Middleware struct {
	reporter Reporter
}

func NewMiddleware(reporter Reporter) Middleware {
	return Middleware{reporter: reporter}
}

// Wrap reports panics and 5xx responses of next. Panics are answered with a
// bare 500 so nothing about them leaks to relay clients.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	if m.reporter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			if recovered := recover(); recovered != nil {
				attrs := requestAttrs(r)
				attrs["panic"] = "true"
				m.reporter.CaptureException(r.Context(), fmt.Errorf("panic: %v", recovered), attrs)

				http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if sw.status >= 500 {
				attrs := requestAttrs(r)
				attrs["http.status"] = strconv.Itoa(sw.status)
				m.reporter.CaptureException(r.Context(), fmt.Errorf("server error %d", sw.status), attrs)
			}
		}()

		next.ServeHTTP(sw, r)
	})
}

func requestAttrs(r *http.Request) map[string]string {
	attrs := map[string]string{
		"http.method": r.Method,
		"http.path":   r.URL.Path,
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			attrs["http.route"] = pattern
		}
	}
	return attrs
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	// net/http writes 200 on the first Write when WriteHeader was never called.
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}
