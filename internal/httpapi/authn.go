package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"inkgate.org/internal/audit"
	"inkgate.org/internal/auth"
	"inkgate.org/internal/obs"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	hostKeyHeader = "X-Host-Api-Key"
)

// withAuth gates the end-user record endpoints on a verified bearer token and
// attaches the derived identity to the context. Everything downstream reads
// tenant scope from that identity only. The operator bulk delete and the
// token endpoint authenticate differently and are handled by their own
// handlers.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requiresBearer(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.AuthFailures.WithLabelValues("missing_credential").Inc()
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := a.issuer.Authenticate(token)
		if err != nil {
			kind := "invalid_credential"
			if errors.Is(err, auth.ErrMissingCredential) {
				kind = "missing_credential"
			}
			obs.AuthFailures.WithLabelValues(kind).Inc()
			_ = audit.LogEvent(r.Context(), "request.credential_rejected", map[string]any{
				"path":   r.URL.Path,
				"reason": kind,
			})
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requiresBearer(r *http.Request) bool {
	if r.URL.Path != "/v1/records" {
		return false
	}
	// DELETE is the operator erasure path, gated on the operator secret
	// inside its handler.
	return r.Method == http.MethodGet || r.Method == http.MethodPost
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
