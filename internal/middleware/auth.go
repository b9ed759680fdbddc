package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/signalix/gateway/internal/auth"
)

type contextKey string

const principalKey contextKey = "principal"

// Authentication methods recorded on a Principal.
const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
	MethodNone   = "none"
)

// Principal is the authenticated operator behind a request.
type Principal struct {
	Subject string
	Method  string
	// Tenants limits the sessions the principal may act on; empty means all.
	Tenants []string
}

// CanAccess reports whether the principal may act on tenantID
func (p *Principal) CanAccess(tenantID string) bool {
	if p == nil {
		return false
	}
	if len(p.Tenants) == 0 {
		return true
	}
	for _, t := range p.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// AuthMiddleware accepts an X-API-Key header, a bearer API key or a bearer
// operator JWT. With no keys and no JWT service configured every request is
// let through as an anonymous principal.
func AuthMiddleware(keys *auth.KeySet, jwtService *auth.JWTService) func(http.Handler) http.Handler {
	open := keys.Len() == 0 && jwtService == nil
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				next.ServeHTTP(w, withPrincipal(r, &Principal{Subject: "anonymous", Method: MethodNone}))
				return
			}

			if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
				fp, ok := keys.Match(key)
				if !ok {
					respondWithError(w, http.StatusUnauthorized, "invalid api key")
					return
				}
				next.ServeHTTP(w, withPrincipal(r, &Principal{Subject: "key:" + fp, Method: MethodAPIKey}))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			if fp, ok := keys.Match(tokenString); ok {
				next.ServeHTTP(w, withPrincipal(r, &Principal{Subject: "key:" + fp, Method: MethodAPIKey}))
				return
			}
			if jwtService == nil {
				respondWithError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, withPrincipal(r, &Principal{
				Subject: claims.Subject,
				Method:  MethodJWT,
				Tenants: claims.Tenants,
			}))
		})
	}
}

// RequireTenant rejects requests whose principal may not act on the tenant
// named by the given URL parameter.
func RequireTenant(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !CanAccessTenant(r.Context(), chi.URLParam(r, param)) {
				respondWithError(w, http.StatusForbidden, "access to this session is not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal returns the principal attached to the request context (set by AuthMiddleware)
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// CanAccessTenant reports whether the request principal may act on tenantID
func CanAccessTenant(ctx context.Context, tenantID string) bool {
	p, _ := GetPrincipal(ctx)
	return p.CanAccess(tenantID)
}

func withPrincipal(r *http.Request, p *Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalKey, p))
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]any{
		"success": false,
		"message": message,
		"error":   http.StatusText(statusCode),
	}
	_ = json.NewEncoder(w).Encode(response)
}
