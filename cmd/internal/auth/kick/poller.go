package kick

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"estatedesk/cmd/internal/auth/session"
)

// ValidateFunc asks the server whether sessionID is still authoritative.
type ValidateFunc func(ctx context.Context, sessionID string) (session.ValidationResult, error)

const defaultPollInterval = 30 * time.Second

// Poller drives a Notifier by calling a ValidateFunc on a fixed interval.
//
// There is no retry or backoff: a failed poll is reported to OnError and the
// next tick simply tries again.
type Poller struct {
	notifier *Notifier
	validate ValidateFunc
	interval time.Duration
	timeout  time.Duration
	onError  func(error)
	log      *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the poll interval (default 30s).
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequestTimeout bounds each poll (default: the interval).
func WithRequestTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// OnError registers a hook for failed polls.
func OnError(fn func(error)) PollerOption {
	return func(p *Poller) { p.onError = fn }
}

// WithPollerLogger sets the logger (default slog.Default()).
func WithPollerLogger(log *slog.Logger) PollerOption {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPoller builds a Poller for n.
func NewPoller(n *Notifier, validate ValidateFunc, opts ...PollerOption) (*Poller, error) {
	if n == nil || validate == nil {
		return nil, errors.New("kick: nil notifier or validate func")
	}
	p := &Poller{
		notifier: n,
		validate: validate,
		interval: defaultPollInterval,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.timeout <= 0 {
		p.timeout = p.interval
	}
	return p, nil
}

// Run polls once immediately and then every interval until the notifier is
// kicked (returns nil) or ctx is done (returns ctx.Err()).
func (p *Poller) Run(ctx context.Context) error {
	if p.PollOnce(ctx) {
		return nil
	}

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.notifier.Done():
			return nil
		case <-t.C:
			if p.PollOnce(ctx) {
				return nil
			}
		}
	}
}

// PollOnce runs a single validation and reports whether the notifier is now kicked.
func (p *Poller) PollOnce(ctx context.Context) bool {
	if p.notifier.Kicked() {
		return true
	}

	sid := p.notifier.SessionID()

	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	res, err := p.validate(pctx, sid)
	cancel()

	if err != nil {
		// Never a kick: transient failures must not show the signed-out notice.
		p.log.Debug("kick.poll.fail", "err", err)
		if p.onError != nil {
			p.onError(err)
		}
		return false
	}

	if p.notifier.Observe(sid, res, nil) {
		p.log.Info("kick.poll.kicked")
	}
	return p.notifier.Kicked()
}
