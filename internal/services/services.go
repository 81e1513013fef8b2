package services

import (
	"github.com/google/uuid"
)

// Actor identifies the authenticated caller. Every service operation is
// scoped to the actor's tenant; cross-tenant reads surface as not-found.
type Actor struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

func (a Actor) Valid() bool {
	return a.TenantID != uuid.Nil && a.UserID != uuid.Nil
}
