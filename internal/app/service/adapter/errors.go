package adapter

import "errors"

// Error taxonomy shared by all authority adapters. Handlers use errors.Is on
// these to pick response codes; anything else is an internal failure.
var (
	// ErrInvalidSignature: the caller's fault, never retried internally.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrAuthorityUnavailable: the external authority is down or timed out;
	// the caller owns the retry.
	ErrAuthorityUnavailable = errors.New("payment authority unavailable")
	// ErrMalformedPayload: the payload cannot be interpreted; rejected and
	// logged for investigation.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnresolvableUser: no user can be attributed; rejected, never
	// guessed.
	ErrUnresolvableUser = errors.New("unresolvable user")
)
