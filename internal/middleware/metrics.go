package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/draftline/internal/handler"
)

// MetricsAuthMiddleware provides basic authentication for the metrics endpoint.
type MetricsAuthMiddleware struct {
	username string
	password string
	enabled  bool
}

// NewMetricsAuthMiddleware creates a new metrics auth middleware.
// If both username and password are empty, authentication is disabled.
func NewMetricsAuthMiddleware(username, password string) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{
		username: username,
		password: password,
		enabled:  username != "" || password != "",
	}
}

// Handler returns middleware that requires basic authentication.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(user, m.username) || !constantTimeEqual(pass, m.password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// JobTokenMiddleware guards the internal job trigger endpoints with a static
// bearer token shared with the external scheduler.
type JobTokenMiddleware struct {
	token  string
	logger *slog.Logger
}

// NewJobTokenMiddleware creates a new job token middleware. An empty token
// rejects every request.
func NewJobTokenMiddleware(token string, logger *slog.Logger) *JobTokenMiddleware {
	return &JobTokenMiddleware{token: token, logger: logger}
}

// Handler returns middleware that requires "Authorization: Bearer <token>".
func (m *JobTokenMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if m.token == "" || !ok || !constantTimeEqual(presented, m.token) {
			m.logger.Warn("rejected internal job request",
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// constantTimeEqual compares secrets without leaking timing.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
