package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/internal/jwtauth"
)

// TokenValidator validates bearer tokens for the review API.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwtauth.Claims, error)
}

type contextKeyActor struct{}

// GetActorContext retrieves the actor resolved by RequireReviewer. The zero
// value means the request was not authenticated.
func GetActorContext(ctx context.Context) audit.ActorContext {
	actor, _ := ctx.Value(contextKeyActor{}).(audit.ActorContext)
	return actor
}

// RequireReviewer authenticates the request and requires the reviewer role.
func RequireReviewer(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return RequireRole(validator, logger, jwtauth.RoleReviewer)
}

// RequireClinician authenticates the request and requires the clinician role.
func RequireClinician(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return RequireRole(validator, logger, jwtauth.RoleClinician)
}

// RequireRole authenticates the request and requires one of the given roles.
// The actor context is resolved exactly once here, from the token claims and
// request metadata, and never re-interpreted downstream.
func RequireRole(validator TokenValidator, logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "auth failed",
					"request_id", GetRequestID(r.Context()),
					"error", err,
				)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}

			actor := audit.ActorContext{
				Actor: audit.Actor{
					ID:          claims.UserID,
					DisplayName: claims.DisplayName,
					Role:        claims.Role,
				},
				Session: audit.SessionContext{
					SourceIP:  clientIP(r),
					UserAgent: r.UserAgent(),
					SessionID: claims.SessionID,
				},
			}
			ctx := context.WithValue(r.Context(), contextKeyActor{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the peer
// address. Best-effort: session context may legitimately be empty.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
