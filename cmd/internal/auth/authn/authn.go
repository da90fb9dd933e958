// Package authn verifies caller tokens minted by the external identity provider
// and yields the account identity the session core works with.
//
// The service never issues tokens. It only checks what the provider signed.
package authn

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Identity is the verified caller.
type Identity struct {
	Subject   string
	Issuer    string
	Method    string // "jwt" or "paseto"
	ExpiresAt time.Time
}

// Verifier checks one token format.
type Verifier interface {
	Verify(token string, now time.Time) (Identity, error)
}

// Authenticator extracts a token from a request and runs it through the configured verifiers.
type Authenticator struct {
	verifiers  []Verifier
	cookieName string
	now        func() time.Time
}

// New builds an Authenticator from cfg. Returns ErrConfig if cfg is invalid.
func New(cfg Config) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var vs []Verifier
	if cfg.JWTSecret != "" {
		v, err := NewJWTVerifier(cfg)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	if cfg.PasetoPublicKeyHex != "" {
		v, err := NewPasetoVerifier(cfg)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}

	return NewWithVerifiers(cfg.CookieName, vs...), nil
}

// NewWithVerifiers builds an Authenticator over explicit verifiers.
func NewWithVerifiers(cookieName string, vs ...Verifier) *Authenticator {
	return &Authenticator{
		verifiers:  vs,
		cookieName: cookieName,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate returns the verified identity for r.
//
// ErrNoToken means the request carried no credential; ErrInvalidToken means it
// carried one that no verifier accepted.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	tok, err := TokenFromRequest(r, a.cookieName)
	if err != nil {
		return Identity{}, err
	}
	return a.Verify(tok)
}

// Verify runs tok through every verifier and returns the first accepted identity.
func (a *Authenticator) Verify(tok string) (Identity, error) {
	now := a.now()
	for _, v := range a.verifiers {
		id, err := v.Verify(tok, now)
		if err == nil {
			return id, nil
		}
	}
	return Identity{}, ErrInvalidToken
}

// TokenFromRequest reads the bearer token, falling back to cookieName when set.
func TokenFromRequest(r *http.Request, cookieName string) (string, error) {
	if r == nil {
		return "", ErrNoToken
	}

	if raw := strings.TrimSpace(r.Header.Get("Authorization")); raw != "" {
		scheme, tok, ok := strings.Cut(raw, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", ErrInvalidToken
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return "", ErrInvalidToken
		}
		return tok, nil
	}

	if cookieName != "" {
		c, err := r.Cookie(cookieName)
		if err != nil {
			if errors.Is(err, http.ErrNoCookie) {
				return "", ErrNoToken
			}
			return "", ErrInvalidToken
		}
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, nil
		}
	}

	return "", ErrNoToken
}
