package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type ctxKey struct{}

// streamPrefix marks endpoints that may carry the token as ?access_token=,
// since EventSource cannot set headers.
const streamPrefix = "/stream/"

var localUser = &UserContext{Subject: "local", Scopes: []string{ScopeResearchRead, ScopeResearchWrite}}

// Middleware authenticates HTTP requests with bearer tokens.
type Middleware struct {
	jwt      *JWTManager
	skipAuth bool
	logger   *zap.Logger
}

// NewMiddleware builds a middleware around jwtManager. With skipAuth every
// request runs as a local user holding all scopes.
func NewMiddleware(jwtManager *JWTManager, skipAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwt: jwtManager, skipAuth: skipAuth, logger: logger}
}

func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := localUser
		if !m.skipAuth {
			token, ok := requestToken(r)
			if !ok {
				deny(w, http.StatusUnauthorized, "Authorization required")
				return
			}
			var err error
			if user, err = m.jwt.ValidateAccessToken(token); err != nil {
				m.logger.Debug("Rejected token", zap.String("path", r.URL.Path), zap.Error(err))
				deny(w, http.StatusUnauthorized, "Invalid token")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func requestToken(r *http.Request) (string, bool) {
	if token, err := ExtractBearerToken(r.Header.Get("Authorization")); err == nil {
		return token, true
	}
	if strings.HasPrefix(r.URL.Path, streamPrefix) {
		if q := r.URL.Query().Get("access_token"); q != "" {
			return q, true
		}
	}
	return "", false
}

// FromContext returns the authenticated caller, if any.
func FromContext(ctx context.Context) (*UserContext, bool) {
	u, ok := ctx.Value(ctxKey{}).(*UserContext)
	return u, ok
}

// RequireScope answers 401 for anonymous callers and 403 for callers
// lacking scope.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := FromContext(r.Context())
		switch {
		case !ok:
			deny(w, http.StatusUnauthorized, "Authorization required")
		case !u.HasScope(scope):
			deny(w, http.StatusForbidden, "Missing scope "+scope)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
