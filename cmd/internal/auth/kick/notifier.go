// Package kick is the client side of single-session enforcement: it turns
// validation results into a two-state machine the presentation layer renders.
//
// A Notifier starts in StateNormal and moves to StateKicked exactly once, on a
// result with Kicked set for its current session. Errors never move it. The
// only way back is Rearm with the result of a fresh registration.
package kick

import (
	"errors"
	"strings"
	"sync"

	"estatedesk/cmd/internal/auth/session"
)

// State of a Notifier.
type State int

const (
	StateNormal State = iota
	StateKicked
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// ActionReauthenticate is the only action a kick notice offers.
const ActionReauthenticate = "reauthenticate"

// Notice is the blocking message shown after a kick. It has no dismiss action.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

var defaultNotice = Notice{
	Title:   "Signed out",
	Message: "Your account was signed in on another device. Sign in again to continue.",
	Action:  ActionReauthenticate,
}

var (
	// ErrNotKicked is returned by Rearm while the notifier is still normal.
	ErrNotKicked = errors.New("kick: notifier is not kicked")

	// ErrStaleRegistration is returned by Rearm for a failed registration or one that reuses the kicked session id.
	ErrStaleRegistration = errors.New("kick: registration does not start a new session")
)

// Notifier tracks whether the local session has been superseded.
type Notifier struct {
	mu        sync.Mutex
	state     State
	sessionID string
	notice    Notice
	done      chan struct{}
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotice overrides the notice text. Action is always ActionReauthenticate.
func WithNotice(title, message string) NotifierOption {
	return func(n *Notifier) {
		if t := strings.TrimSpace(title); t != "" {
			n.notice.Title = t
		}
		if m := strings.TrimSpace(message); m != "" {
			n.notice.Message = m
		}
	}
}

// NewNotifier returns a Notifier in StateNormal for sessionID.
func NewNotifier(sessionID string, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		state:     StateNormal,
		sessionID: sessionID,
		notice:    defaultNotice,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Observe feeds one validation outcome for sessionID. It reports whether this
// call moved the notifier to StateKicked.
//
// Results for any other session id are ignored, so a poll that was in flight
// across Rearm cannot kick the new session.
func (n *Notifier) Observe(sessionID string, res session.ValidationResult, err error) bool {
	if err != nil || !res.Kicked {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateKicked || sessionID != n.sessionID {
		return false
	}
	n.state = StateKicked
	close(n.done)
	return true
}

// State returns the current state.
func (n *Notifier) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Kicked reports whether the local session has been superseded.
func (n *Notifier) Kicked() bool { return n.State() == StateKicked }

// AllowPrivileged reports whether privileged operations may still run on the local session.
func (n *Notifier) AllowPrivileged() bool { return n.State() == StateNormal }

// SessionID returns the session the notifier currently watches.
func (n *Notifier) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// Done is closed on the transition to StateKicked.
func (n *Notifier) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Notice returns the notice to render and true once kicked.
func (n *Notifier) Notice() (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateKicked {
		return Notice{}, false
	}
	return n.notice, true
}

// Rearm returns a kicked notifier to StateNormal for the session created by a fresh registration.
func (n *Notifier) Rearm(reg session.RegisteredSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateKicked {
		return ErrNotKicked
	}
	if !reg.Success || reg.SessionID == "" || reg.SessionID == n.sessionID {
		return ErrStaleRegistration
	}

	n.state = StateNormal
	n.sessionID = reg.SessionID
	n.done = make(chan struct{})
	return nil
}
