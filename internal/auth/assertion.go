package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"inkgate.org/internal/obs"
	"inkgate.org/internal/replay"
)

const (
	// assertionKeyPrefix namespaces dedup entries so other cache users cannot
	// collide with assertion ids.
	assertionKeyPrefix = "assertion:"

	// minReplayTTL floors the dedup retention. The TTL is otherwise the
	// assertion's own remaining validity, so an eviction can never land inside
	// the window in which the assertion would still verify.
	minReplayTTL = time.Minute
)

// AssertionClaims are the verified claims of a host assertion.
type AssertionClaims struct {
	Subject   string
	Issuer    string
	ID        string
	ExpiresAt time.Time
}

// Verifier validates signed host assertions. The signature check accepts only
// RS256: the verification key is public, so admitting a symmetric algorithm
// would let anyone holding that key mint assertions.
type Verifier struct {
	key      *rsa.PublicKey
	audience string
	issuer   string
	cache    replay.Cache
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier. A nil key is permitted so the gateway can
// run in shared-secret fallback mode; Verify then fails closed.
func NewVerifier(key *rsa.PublicKey, audience, issuer string, cache replay.Cache, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		key:      key,
		audience: strings.TrimSpace(audience),
		issuer:   strings.TrimSpace(issuer),
		cache:    cache,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled reports whether assertion verification is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && v.key != nil
}

// Verify checks signature, audience, issuer, expiry and single-use id, then
// records the id in the dedup cache. The check-and-record step is atomic per
// id: of two concurrent calls with the same assertion, at most one succeeds.
func (v *Verifier) Verify(ctx context.Context, raw string) (AssertionClaims, error) {
	if !v.Enabled() {
		return AssertionClaims{}, ErrNoVerificationKey
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AssertionClaims{}, ErrInvalidAssertion
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return AssertionClaims{}, ErrInvalidAssertion
	}
	if strings.TrimSpace(claims.ID) == "" {
		return AssertionClaims{}, ErrInvalidAssertion
	}

	ttl := claims.ExpiresAt.Sub(v.now())
	if ttl < minReplayTTL {
		ttl = minReplayTTL
	}
	stored, err := v.cache.PutIfAbsent(ctx, assertionKeyPrefix+claims.ID, ttl)
	if err != nil {
		// Without the dedup cache we cannot prove the id is fresh; fail closed.
		return AssertionClaims{}, fmt.Errorf("%w: dedup cache unavailable", ErrInvalidAssertion)
	}
	if !stored {
		obs.AssertionReplays.Inc()
		return AssertionClaims{}, ErrReplayedAssertion
	}

	return AssertionClaims{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
