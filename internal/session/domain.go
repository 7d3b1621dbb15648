package session

import (
	"time"

	"github.com/caridad-org/console/internal/rbac"
	"github.com/caridad-org/console/internal/shared"
)

// Identity represents an authenticated principal.
type Identity struct {
	Login     string      `json:"login"`
	Token     string      `json:"-"`
	Roles     []rbac.Role `json:"roles"`
	SessionID string      `json:"sessionId"`
	// ExpiresAt is zero when the token carries no expiry.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Roles = append([]rbac.Role(nil), i.Roles...)
	return &out
}

// Snapshot is an immutable view of the session at one point in time.
type Snapshot struct {
	Identity   *Identity   `json:"identity,omitempty"`
	Role       *rbac.Role  `json:"role,omitempty"`
	Menus      []rbac.Menu `json:"menus"`
	Generation uint64      `json:"generation"`
	// Seq is the sequence number of the last event reflected in this view.
	Seq uint64 `json:"seq"`
	// At is the instant used for expiry checks.
	At time.Time `json:"-"`
}

// IsAuthenticated reports whether an identity is present and its token has not expired.
func (s Snapshot) IsAuthenticated() bool {
	if s.Identity == nil {
		return false
	}
	if s.Identity.ExpiresAt.IsZero() {
		return true
	}
	return s.At.Before(s.Identity.ExpiresAt)
}

// ActiveRole returns the active role when one has been chosen.
func (s Snapshot) ActiveRole() (rbac.Role, bool) {
	if s.Role == nil {
		return rbac.Role{}, false
	}
	return *s.Role, true
}

// NeedsRoleSelection reports whether the identity holds several roles and none is active.
func (s Snapshot) NeedsRoleSelection() bool {
	return s.Identity != nil && s.Role == nil && len(s.Identity.Roles) > 1
}

var _ rbac.Subject = Snapshot{}

// Transition names a session state change.
type Transition string

const (
	TransitionLogin        Transition = "login"
	TransitionRestored     Transition = "restored"
	TransitionRoleSelected Transition = "role_selected"
	TransitionLogout       Transition = "logout"
	TransitionExpired      Transition = "expired"
)

// Event is delivered to subscribers after every transition.
type Event struct {
	Seq        uint64
	Transition Transition
	Snapshot   Snapshot
	Notice     shared.Notice
}

// Result is returned by Login.
type Result struct {
	Snapshot           Snapshot
	NeedsRoleSelection bool
	Message            string
}
