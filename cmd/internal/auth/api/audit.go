package api

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"estatedesk/cmd/security/token"

	"github.com/jackc/pgx/v5"
)

const auditTable = "session_audit_log"

func (h *Handler) auditRegistered(ctx context.Context, userID, sessionID string, ip net.IP, mode string) {
	h.insertAudit(ctx, "session.registered", userID, sessionID, ip, map[string]any{
		"mode": mode,
	})
}

func (h *Handler) auditKicked(ctx context.Context, userID, sessionID string, ip net.IP) {
	h.insertAudit(ctx, "session.kicked", userID, sessionID, ip, nil)
}

func (h *Handler) auditRateLimited(ctx context.Context, userID string, ip net.IP, retryAfter time.Duration) {
	h.insertAudit(ctx, "session.validate.rate_limited", userID, "", ip, map[string]any{
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

// insertAudit writes one audit row. Failures are logged and never surfaced to the caller.
func (h *Handler) insertAudit(ctx context.Context, action, userID, sessionID string, ip net.IP, meta map[string]any) {
	if h == nil || h.audit == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var fpVal any
	if sessionID != "" {
		fpVal = token.Fingerprint(sessionID)
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.audit.Exec(ctx, `
		INSERT INTO `+pgx.Identifier{h.auditSchema, auditTable}.Sanitize()+` (
			user_id, action, session_fp, source_address, created_at, meta
		) VALUES ($1, $2, $3, $4, now(), $5::jsonb)
	`, userID, action, fpVal, ipVal, metaVal)
	if err != nil {
		h.log.Error("session.audit.insert.fail", "err", err, "action", action)
	}
}
