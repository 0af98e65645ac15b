package auth

import "errors"

var (
	// ErrNoVerificationKey means the deployment has no assertion key configured.
	// The verifier fails closed rather than falling through to a weaker check.
	ErrNoVerificationKey = errors.New("auth: no verification key configured")

	// ErrInvalidAssertion covers bad signature, algorithm, audience, issuer,
	// expiry or missing claims on a host assertion.
	ErrInvalidAssertion = errors.New("auth: invalid assertion")

	// ErrReplayedAssertion means the assertion's single-use id was seen before.
	ErrReplayedAssertion = errors.New("auth: assertion already used")

	// ErrMissingCredential means no bearer token accompanied the request.
	ErrMissingCredential = errors.New("auth: missing credential")

	// ErrInvalidCredential means the bearer token failed verification.
	ErrInvalidCredential = errors.New("auth: invalid credential")
)
