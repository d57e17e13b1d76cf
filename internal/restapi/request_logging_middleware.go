package restapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"transitlens.dev/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// requestLogging tags each request with an id, stores a request-scoped
// logger in the context for downstream handlers, and logs one line per
// request with method, path, status and duration.
func (api *RestAPI) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		requestLogger := api.Logger.With(slog.String("request_id", uuid.NewString()))
		r = r.WithContext(logging.WithLogger(r.Context(), requestLogger))

		next.ServeHTTP(rec, r)

		logging.LogOperation(requestLogger, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}
