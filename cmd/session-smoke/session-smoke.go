// Package main provides a CI-friendly smoke test for single-active-session enforcement.
//
// It validates:
//   - register A, validate A
//   - register B for the same account, A is kicked on the next poll
//   - B stays valid
//   - re-login after a kick re-arms the notifier on a fresh session
//
// Tokens are minted locally with ESTATE_AUTH_JWT_SECRET (HS256), so the
// server must run with the same secret.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"estatedesk/cmd/internal/auth/kick"
	"estatedesk/cmd/internal/auth/session"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		userID   = flag.String("user", "", "Account id (default: random per run)")
		issuer   = flag.String("issuer", "", "Token issuer (must match ESTATE_AUTH_JWT_ISSUER when set)")
		audience = flag.String("audience", "", "Token audience (must match ESTATE_AUTH_JWT_AUDIENCE when set)")
		interval = flag.Duration("interval", 200*time.Millisecond, "Poll interval while waiting for the kick")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	_ = godotenv.Load()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	secret := os.Getenv("ESTATE_AUTH_JWT_SECRET")
	if secret == "" {
		fatalf("ESTATE_AUTH_JWT_SECRET is not set")
	}

	user := strings.TrimSpace(*userID)
	if user == "" {
		user = fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	}

	tok, err := mintToken(secret, user, *issuer, *audience)
	if err != nil {
		fatalf("mint token: %v", err)
	}

	c := &kick.Client{
		HTTP:    &http.Client{Timeout: *timeout},
		BaseURL: *baseURL,
		Token:   func() string { return tok },
	}
	root := context.Background()
	run := fmt.Sprintf("%d", time.Now().UnixNano())
	sidA, sidB, sidC := "smoke-a-"+run, "smoke-b-"+run, "smoke-c-"+run

	mustRegister(root, c, sidA, "smoke device A", *timeout)
	mustValid(root, c, sidA, *timeout)

	n := kick.NewNotifier(sidA)
	p, err := kick.NewPoller(n, kick.HTTPValidateFunc(c),
		kick.WithInterval(*interval),
		kick.WithRequestTimeout(*timeout),
		kick.OnError(func(err error) {
			if *verbose {
				fmt.Printf("poll error (not a kick): %v\n", err)
			}
		}),
	)
	if err != nil {
		fatalf("poller: %v", err)
	}
	if p.PollOnce(root) {
		fatalf("A kicked before B registered")
	}

	mustRegister(root, c, sidB, "smoke device B", *timeout)

	ctx, cancel := context.WithTimeout(root, *timeout)
	err = p.Run(ctx)
	cancel()
	if err != nil {
		fatalf("waiting for kick of A: %v", err)
	}
	notice, ok := n.Notice()
	if !ok || n.AllowPrivileged() {
		fatalf("notifier not in kicked state after Run returned")
	}
	if *verbose {
		fmt.Printf("kicked: %s (%s) action=%s\n", notice.Title, notice.Message, notice.Action)
	}

	mustValid(root, c, sidB, *timeout)

	reg := mustRegister(root, c, sidC, "smoke device A again", *timeout)
	if err := n.Rearm(reg); err != nil {
		fatalf("rearm: %v", err)
	}
	if p.PollOnce(root) {
		fatalf("fresh session %s reported kicked", sidC)
	}

	fmt.Printf("OK: user=%s kicked=%s active=%s\n", user, sidA, sidC)
}

func mintToken(secret, sub, iss, aud string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    iss,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
	}
	if aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func mustRegister(parent context.Context, c *kick.Client, sid, device string, timeout time.Duration) session.RegisteredSession {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	reg, err := c.Register(ctx, sid, device)
	if err != nil {
		fatalf("register %s: %v", sid, describe(err))
	}
	if !reg.Success || reg.SessionID != sid {
		fatalf("register %s: unexpected response %+v", sid, reg)
	}
	return reg
}

func mustValid(parent context.Context, c *kick.Client, sid string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	res, err := c.Validate(ctx, sid)
	if err != nil {
		fatalf("validate %s: %v", sid, describe(err))
	}
	if !res.Valid || res.Kicked {
		fatalf("validate %s: expected valid, got %+v", sid, res)
	}
}

func describe(err error) string {
	var se *kick.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("status=%d code=%s message=%q", se.Status, se.Code, se.Message)
	}
	return err.Error()
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
