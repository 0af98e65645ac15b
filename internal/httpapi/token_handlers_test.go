package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestTokenAssertionGateRejectsReplay(t *testing.T) {
	e := newTestEnv(t)
	assertion := e.signAssertion()
	body := map[string]string{"user_id": "u1", "org_id": "acme"}
	headers := map[string]string{"Authorization": "Bearer " + assertion}

	resp := e.do(http.MethodPost, "/v1/token", body, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first use: expected 200, got %d", resp.StatusCode)
	}

	resp = e.do(http.MethodPost, "/v1/token", body, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenAssertionGateRejectsMissingAssertion(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(http.MethodPost, "/v1/token",
		map[string]string{"user_id": "u1", "org_id": "acme"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenAssertionGateRejectsForeignSigner(t *testing.T) {
	e := newTestEnv(t)

	// Signed with a key the verifier has never seen.
	other := newTestEnv(t)
	assertion := other.signAssertion()

	resp := e.do(http.MethodPost, "/v1/token",
		map[string]string{"user_id": "u1", "org_id": "acme"},
		map[string]string{"Authorization": "Bearer " + assertion})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenAssertionGateRejectsSymmetricAlg(t *testing.T) {
	e := newTestEnv(t)
	claims := jwt.RegisteredClaims{
		Issuer:    testHostIssuer,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		ID:        uuid.NewString(),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("guess"))
	if err != nil {
		t.Fatalf("sign forged assertion: %v", err)
	}
	resp := e.do(http.MethodPost, "/v1/token",
		map[string]string{"user_id": "u1", "org_id": "acme"},
		map[string]string{"Authorization": "Bearer " + forged})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenSharedSecretFallback(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.Verifier = nil })
	body := map[string]string{"user_id": "u1", "org_id": "acme"}

	resp := e.do(http.MethodPost, "/v1/token", body, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing host key: expected 401, got %d", resp.StatusCode)
	}

	resp = e.do(http.MethodPost, "/v1/token", body,
		map[string]string{hostKeyHeader: "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong host key: expected 403, got %d", resp.StatusCode)
	}

	resp = e.do(http.MethodPost, "/v1/token", body,
		map[string]string{hostKeyHeader: testOperatorKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid host key: expected 200, got %d", resp.StatusCode)
	}
	var tr tokenResponse
	decodeBody(t, resp, &tr)
	if tr.Token == "" {
		t.Fatalf("expected a token")
	}
}

func TestTokenRejectsInvalidRequestBody(t *testing.T) {
	e := newTestEnv(t)
	headers := map[string]string{"Authorization": "Bearer " + e.signAssertion()}

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing user", map[string]string{"org_id": "acme"}},
		{"missing org", map[string]string{"user_id": "u1"}},
		{"unknown field", map[string]string{"user_id": "u1", "org_id": "acme", "extra": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := e.do(http.MethodPost, "/v1/token", tc.body, headers)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestTokenMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(http.MethodGet, "/v1/token", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
