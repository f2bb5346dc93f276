// Package middleware contains HTTP middleware for the Draftline accounting API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/draftline/internal/auth"
	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/DukeRupert/draftline/internal/handler"
	"github.com/google/uuid"
)

// =============================================================================
// Identity Middleware
// =============================================================================

// IdentityMiddleware reads the tenant identity set by the upstream auth
// gateway.
type IdentityMiddleware struct {
	logger *slog.Logger
}

// NewIdentityMiddleware creates a new identity middleware.
func NewIdentityMiddleware(logger *slog.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{logger: logger}
}

// WithIdentity stores the user ID from auth.UserIDHeader in the request
// context when present. Requests without the header continue anonymously so
// the quota gate can answer not_authenticated itself.
//
// Flow:
//
//	Request -> WithIdentity -> Handler
//	           |
//	           +-> No header: continue without identity
//	           +-> Malformed header: 400
//	           +-> Valid header: set user ID in context
func (m *IdentityMiddleware) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(auth.UserIDHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			handler.ErrorResponse(w, r, m.logger, domain.Invalid("identity", "malformed "+auth.UserIDHeader+" header"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetUserID(r.Context(), userID)))
	})
}

// RequireIdentity rejects requests without a tenant identity with 401.
//
// IMPORTANT: This middleware must be used AFTER WithIdentity in the middleware chain.
func (m *IdentityMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUserID(r.Context()) == uuid.Nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw.Handler, identityMw.WithIdentity, identityMw.RequireIdentity)
//	mux.Handle("GET /api/limits", stack(limitsHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).WithIdentity
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).RequireIdentity
)
