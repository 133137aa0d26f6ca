package authz

import (
	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/outbox"
)

// systemRole labels actions taken by workers and webhooks in audit trails.
const systemRole = "system"

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
	System bool
}

// SystemActor is used by the cron worker and gateway webhooks.
var SystemActor = Actor{System: true}

// IsAdmin reports whether the actor may act on any order.
func (a Actor) IsAdmin() bool {
	return a.System || a.Role == enums.RoleAdmin
}

// RoleLabel is the role recorded in histories and event envelopes.
func (a Actor) RoleLabel() string {
	if a.System {
		return systemRole
	}
	return a.Role.String()
}

// Ref converts the actor into the outbox envelope representation.
func (a Actor) Ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, Role: a.RoleLabel()}
}

// UserPtr returns the user id, or nil for system actions.
func (a Actor) UserPtr() *uuid.UUID {
	if a.System || a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// Authenticated fails when no identity is attached to the call.
func Authenticated(a Actor) error {
	if a.System {
		return nil
	}
	if a.UserID == uuid.Nil || !a.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return nil
}

// RequireRole admits the actor when it holds one of roles. System actors always pass.
func RequireRole(a Actor, roles ...enums.Role) error {
	if err := Authenticated(a); err != nil {
		return err
	}
	if a.System {
		return nil
	}
	for _, role := range roles {
		if a.Role == role {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted for this action")
}

// RequireParty admits the order's buyer or seller in their own role, and admins.
func RequireParty(a Actor, buyerID, sellerID uuid.UUID) error {
	if err := Authenticated(a); err != nil {
		return err
	}
	if a.IsAdmin() || IsBuyerOf(a, buyerID) || IsSellerOf(a, sellerID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
}

// IsBuyerOf reports whether the actor is the buyer identified by buyerID.
func IsBuyerOf(a Actor, buyerID uuid.UUID) bool {
	return a.Role == enums.RoleBuyer && a.UserID == buyerID
}

// IsSellerOf reports whether the actor is the seller identified by sellerID.
func IsSellerOf(a Actor, sellerID uuid.UUID) bool {
	return a.Role == enums.RoleSeller && a.UserID == sellerID
}
