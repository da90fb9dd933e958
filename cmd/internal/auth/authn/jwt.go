package authn

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier accepts HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// NewJWTVerifier builds an HS256 verifier. Returns ErrConfig without a usable secret.
func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return nil, ErrConfig
	}
	return &JWTVerifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		leeway:   cfg.ClockSkew,
	}, nil
}

func (v *JWTVerifier) Verify(token string, now time.Time) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		// HS* only; WithValidMethods already pins HS256.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", t.Method)
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Method:  "jwt",
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
