package httpapi

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"inventario/backend/internal/cache"
	"inventario/backend/internal/service"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(headerRequestID))
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		rec := &statusRecorder{ResponseWriter: w}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)

		a.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(startedAt).String(),
		}).Info("request")
	})
}

// captureWriter tees the response body so it can be stored for replay.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// idempotent replays the stored reply when a request repeats its
// Idempotency-Key. Keys are scoped by user and path. Server errors are not
// stored so the client can retry them.
func (a *API) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if key == "" {
			next(w, r)
			return
		}
		if len(key) > 128 {
			writeError(w, http.StatusBadRequest, errIdempotencyKeyTooLong)
			return
		}

		username := ""
		if actor, ok := service.ActorFromContext(r.Context()); ok {
			username = actor.Username
		}
		scoped := username + ":" + r.URL.Path + ":" + key
		logger := a.log.WithField("idempotency_key", key)

		stored, found, err := a.idempotency.Get(r.Context(), scoped)
		if err != nil {
			logger.WithError(err).Warn("idempotency lookup failed")
		}
		if found && stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplayed, "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		capture := &captureWriter{ResponseWriter: w}
		next(capture, r)
		if capture.status == 0 || capture.status >= http.StatusInternalServerError {
			return
		}
		resp := &cache.Response{Status: capture.status, Body: bytes.Clone(capture.body.Bytes())}
		if err := a.idempotency.Set(r.Context(), scoped, resp, a.idempotencyTTL); err != nil {
			logger.WithError(err).Warn("idempotency store failed")
		}
	}
}
