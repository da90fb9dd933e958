package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"estatedesk/cmd/internal/auth/authn"
	"estatedesk/cmd/internal/auth/session"

	"github.com/jackc/pgx/v5/pgconn"
)

// Authenticator verifies the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (authn.Identity, error)
}

// Execer is the subset of pgxpool.Pool used for audit rows.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Handler wires HTTP session endpoints to the Registrar and Validator.
type Handler struct {
	log *slog.Logger
	cfg Config

	auth      Authenticator
	registrar *session.Registrar
	validator *session.Validator
	limiter   *pollLimiter

	audit       Execer
	auditSchema string

	now func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAudit enables best-effort audit rows in schema.session_audit_log.
func WithAudit(db Execer, schema string) HandlerOption {
	return func(h *Handler) {
		if h == nil || db == nil {
			return
		}
		h.audit = db
		if s := strings.TrimSpace(schema); s != "" {
			h.auditSchema = s
		}
	}
}

// WithClock overrides time.Now for the poll limiter (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs a session Handler.
func NewHandler(log *slog.Logger, auth Authenticator, reg *session.Registrar, val *session.Validator, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if auth == nil {
		return nil, errors.New("api: nil authenticator")
	}
	if reg == nil || val == nil {
		return nil, errors.New("api: nil registrar or validator")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:         log,
		cfg:         cfg,
		auth:        auth,
		registrar:   reg,
		validator:   val,
		limiter:     newPollLimiter(cfg.ValidateMax, cfg.ValidateWindow),
		auditSchema: "public",
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	return h, nil
}

// Register wires session routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/session/register", h.handleRegister)
	mux.HandleFunc("/session/validate", h.handleValidate)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)

	res, err := h.registrar.Register(ctx, p, session.RegisterInput{
		SessionID:     req.SessionID,
		DeviceInfo:    req.DeviceInfo,
		SourceAddress: ipString(ip),
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}

	h.auditRegistered(ctx, p.UserID, res.SessionID, ip, string(res.Mode))

	writeJSON(w, http.StatusOK, registerResponse{
		Success:   res.Success,
		SessionID: res.SessionID,
	})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)

	if allowed, retryAfter := h.limiter.Allow(p.UserID, h.now()); !allowed {
		h.auditRateLimited(ctx, p.UserID, ip, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	var req validateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	res, err := h.validator.Validate(ctx, p, req.SessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if res.Kicked {
		h.auditKicked(ctx, p.UserID, req.SessionID, ip)
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: res.Valid, Kicked: res.Kicked})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	id, err := h.auth.Authenticate(r)
	if err != nil || strings.TrimSpace(id.Subject) == "" {
		msg := "invalid token"
		if errors.Is(err, authn.ErrNoToken) {
			msg = "missing bearer token"
		}
		writeError(w, http.StatusUnauthorized, "unauthenticated", msg)
		return session.Principal{}, false
	}
	return session.Principal{UserID: id.Subject}, true
}

// writeSessionError maps the session error taxonomy onto HTTP. A storage
// failure is always a 503 so clients never read it as a kick.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case session.IsUnauthenticated(err):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case session.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_input", "sessionId is required")
	default:
		writeError(w, http.StatusServiceUnavailable, "storage_failure", "session store unavailable")
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
