package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"estatedesk/cmd/internal/auth/session"
)

// Client calls the session endpoints on behalf of a signed-in user.
type Client struct {
	HTTP    *http.Client
	BaseURL string

	// Token returns the bearer token for each request.
	Token func() string
}

// StatusError is a non-200 response from the session API.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("session api: http %d", e.Status)
	}
	return fmt.Sprintf("session api: http %d %s: %s", e.Status, e.Code, e.Message)
}

// Register calls POST /session/register.
func (c *Client) Register(ctx context.Context, sessionID, deviceInfo string) (session.RegisteredSession, error) {
	var out struct {
		Success   bool   `json:"success"`
		SessionID string `json:"sessionId"`
	}
	body := map[string]string{"sessionId": sessionID}
	if deviceInfo != "" {
		body["deviceInfo"] = deviceInfo
	}
	if err := c.post(ctx, "kick.Register", "/session/register", body, &out); err != nil {
		return session.RegisteredSession{}, err
	}
	return session.RegisteredSession{SessionID: out.SessionID, Success: out.Success}, nil
}

// Validate calls POST /session/validate.
func (c *Client) Validate(ctx context.Context, sessionID string) (session.ValidationResult, error) {
	var out struct {
		Valid  bool `json:"valid"`
		Kicked bool `json:"kicked"`
	}
	if err := c.post(ctx, "kick.Validate", "/session/validate", map[string]string{"sessionId": sessionID}, &out); err != nil {
		return session.ValidationResult{}, err
	}
	return session.ValidationResult{Valid: out.Valid, Kicked: out.Kicked}, nil
}

// HTTPValidateFunc adapts a Client to a Poller.
func HTTPValidateFunc(c *Client) ValidateFunc {
	return c.Validate
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != nil {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return session.OpError{Op: op, Kind: session.ErrStorageFailure, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return session.OpError{Op: op, Kind: session.ErrStorageFailure, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Status: resp.StatusCode}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		return session.OpError{Op: op, Kind: kindForStatus(resp.StatusCode), Err: se}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return session.OpError{Op: op, Kind: session.ErrStorageFailure, Err: errors.Join(errors.New("decode response"), err)}
	}
	return nil
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return session.ErrUnauthenticated
	case http.StatusBadRequest:
		return session.ErrInvalidInput
	default:
		return session.ErrStorageFailure
	}
}
