package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotency-Replayed"
)

// Middleware replays recorded responses for repeated Idempotency-Key values.
// Requests without the header, or any request when s is nil, pass straight through.
// Server errors are not recorded so the client can retry them.
func Middleware(s *Store, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(HeaderKey)
			if s == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + ":" + r.URL.Path + ":" + header

			recorded, err := s.Begin(r.Context(), key)
			switch {
			case errors.Is(err, ErrInProgress):
				writeJSONError(w, http.StatusConflict, "request with this idempotency key is in progress")
				return
			case err != nil:
				log.Error("idempotency store unavailable", zap.String("key", header), zap.Error(err))
				writeJSONError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			case recorded != nil:
				if recorded.ContentType != "" {
					w.Header().Set("Content-Type", recorded.ContentType)
				}
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(recorded.Status)
				w.Write(recorded.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// the client may be gone; the outcome must still be stored
			ctx := context.WithoutCancel(r.Context())
			if rec.status >= http.StatusInternalServerError {
				if err := s.Release(ctx, key); err != nil {
					log.Warn("idempotency release failed", zap.String("key", header), zap.Error(err))
				}
				return
			}
			resp := &Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := s.Complete(ctx, key, resp); err != nil {
				log.Warn("idempotency record failed", zap.String("key", header), zap.Error(err))
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
