package authn

import "errors"

var (
	// ErrConfig indicates invalid or incomplete verifier configuration.
	ErrConfig = errors.New("authn: invalid config")

	// ErrNoToken is returned when the request carries no credential at all.
	ErrNoToken = errors.New("authn: no token")

	// ErrInvalidToken covers bad signatures, expired tokens, wrong issuer/audience and missing subject.
	ErrInvalidToken = errors.New("authn: invalid token")
)
