package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"inkgate.org/internal/audit"
	"inkgate.org/internal/auth"
	"inkgate.org/internal/obs"
)

type tokenRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	OrgID  string `json:"org_id" validate:"required,max=128"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// handleToken mints a tenant-scoped bearer token for an end user. The caller
// must prove host identity first: with a signed single-use assertion when the
// deployment is assertion-gated, or with the static operator secret in the
// fallback mode. The two gates never blend.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	if a.verifier.Enabled() {
		if !a.gateByAssertion(w, r, req) {
			return
		}
	} else {
		if !a.gateBySharedSecret(w, r) {
			return
		}
	}

	token, expiresAt, err := a.issuer.Mint(req.UserID, req.OrgID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token minting failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "token.minted", map[string]any{
		"subject": req.UserID,
		"org_id":  req.OrgID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	})
}

func (a *API) gateByAssertion(w http.ResponseWriter, r *http.Request, req tokenRequest) bool {
	raw, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		obs.AuthFailures.WithLabelValues("missing_assertion").Inc()
		writeError(w, r, http.StatusUnauthorized, "host assertion required")
		return false
	}
	claims, err := a.verifier.Verify(r.Context(), raw)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrReplayedAssertion):
		obs.AuthFailures.WithLabelValues("replayed_assertion").Inc()
		_ = audit.LogEvent(r.Context(), "assertion.replayed", map[string]any{
			"org_id": req.OrgID,
		})
		writeError(w, r, http.StatusUnauthorized, "assertion rejected")
		return false
	default:
		obs.AuthFailures.WithLabelValues("invalid_assertion").Inc()
		_ = audit.LogEvent(r.Context(), "assertion.rejected", map[string]any{
			"org_id": req.OrgID,
		})
		writeError(w, r, http.StatusUnauthorized, "assertion rejected")
		return false
	}
	_ = audit.LogEvent(r.Context(), "assertion.verified", map[string]any{
		"host":   claims.Subject,
		"org_id": req.OrgID,
	})
	return true
}

func (a *API) gateBySharedSecret(w http.ResponseWriter, r *http.Request) bool {
	presented := r.Header.Get(hostKeyHeader)
	if presented == "" {
		obs.AuthFailures.WithLabelValues("missing_host_key").Inc()
		writeError(w, r, http.StatusUnauthorized, "host credential required")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.hostAPIKey)) != 1 {
		obs.AuthFailures.WithLabelValues("invalid_host_key").Inc()
		_ = audit.LogEvent(r.Context(), "host_key.rejected", nil)
		writeError(w, r, http.StatusForbidden, "host credential rejected")
		return false
	}
	return true
}
