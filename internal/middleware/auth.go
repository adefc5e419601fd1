package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/logger"
)

type contextKey string

const (
	OwnerKey  contextKey = "owner"
	holderKey contextKey = "owner_holder"
)

// ownerHolder lets Logging, which wraps BearerAuth, see the owner that
// BearerAuth resolved further down the chain.
type ownerHolder struct{ owner string }

func withOwnerHolder(ctx context.Context, h *ownerHolder) context.Context {
	return context.WithValue(ctx, holderKey, h)
}

const (
	msgTokenRequired = "Token de autorización requerido"
	msgTokenInvalid  = "Token inválido"
)

// BearerAuth verifies the Authorization bearer token and stores the caller's
// owner id in the request context. Requests without a valid token never reach
// next.
func BearerAuth(v analysis.TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(w, http.StatusUnauthorized, msgTokenRequired)
				return
			}

			owner, err := v.Verify(r.Context(), token)
			if err != nil {
				log.Debug("token rejected", "path", r.URL.Path, "error", err)
				reject(w, http.StatusUnauthorized, msgTokenInvalid)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// WithOwner returns ctx carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	if h, ok := ctx.Value(holderKey).(*ownerHolder); ok {
		h.owner = owner
	}
	return context.WithValue(ctx, OwnerKey, owner)
}

// OwnerFromContext returns the authenticated owner, or "" outside BearerAuth.
func OwnerFromContext(ctx context.Context) string {
	if owner, ok := ctx.Value(OwnerKey).(string); ok {
		return owner
	}
	return ""
}

// reject writes the API's failure envelope.
func reject(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
