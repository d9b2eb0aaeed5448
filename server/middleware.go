package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RequireKey rejects requests whose X-Security-Key header does not match
// the shared key.
func RequireKey(key string, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Security-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				log.WithFields(logrus.Fields{"path": r.URL.Path, "remote": r.RemoteAddr}).Warn("rejected request with invalid security key")
				writeError(w, http.StatusUnauthorized, "Invalid security key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":  r.Method,
				"path":    r.URL.Path,
				"elapsed": time.Since(start),
			}).Debug("request")
		})
	}
}
