package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrForbidden is returned when an authenticated caller lacks a capability.
var ErrForbidden = errors.New("caller may not perform this action")

type Role string

const (
	RoleAttendee  Role = "attendee"
	RoleOrganizer Role = "organizer"
	RoleStaff     Role = "staff"
)

type Capability string

const (
	CanBrowse          Capability = "browse"
	CanHoldTickets     Capability = "hold_tickets"
	CanManageEvents    Capability = "manage_events"
	CanRevokeTickets   Capability = "revoke_tickets"
	CanScanTickets     Capability = "scan_tickets"
	CanOverrideReentry Capability = "override_reentry"
)

// capabilities is the only place a role is turned into permissions.
var capabilities = map[Role][]Capability{
	RoleAttendee:  {CanBrowse, CanHoldTickets},
	RoleOrganizer: {CanBrowse, CanManageEvents, CanRevokeTickets},
	RoleStaff:     {CanBrowse, CanScanTickets, CanOverrideReentry},
}

// Identity is the authenticated caller as resolved by the identity provider.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

func (i Identity) Can(c Capability) bool {
	for _, have := range capabilities[i.Role] {
		if have == c {
			return true
		}
	}
	return false
}

// Authorize returns ErrForbidden, naming the capability, when i lacks c.
func (i Identity) Authorize(c Capability) error {
	if i.Can(c) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s", ErrForbidden, i.Role, c)
}

// DisplayName falls back to the user id when the provider sent no name.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.UserID
}

// ParseRole accepts a role name in any case. ok is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := capabilities[r]
	return r, ok
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
