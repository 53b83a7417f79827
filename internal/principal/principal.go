// Package principal models the acting identity of a request: either a
// registered user loaded from the database or the non-persisted demo
// identity. Authorization checks branch on the variant instead of relying on
// a sentinel user row.
package principal

import (
	"github.com/google/uuid"
	"github.com/mirroros/public-api/internal/models"
)

// DemoSubject is the JWT subject claim issued for demo logins.
const DemoSubject = "demo"

// DemoEmail identifies the demo principal in responses and logs.
const DemoEmail = "demo@mirroros.com"

type Principal struct {
	ID    uuid.UUID
	Email string
	Tier  string
	Demo  bool

	// User is the backing row for registered principals, nil for demo.
	User *models.User
}

// FromUser wraps a loaded user row.
func FromUser(u *models.User) *Principal {
	return &Principal{
		ID:    u.ID,
		Email: u.Email,
		Tier:  u.Tier,
		User:  u,
	}
}

// NewDemo returns the ephemeral demo principal. Nothing about it is
// persisted; it exists only for the lifetime of its token.
func NewDemo() *Principal {
	return &Principal{
		Email: DemoEmail,
		Tier:  models.TierFree,
		Demo:  true,
	}
}

// Subject is the identity forwarded to downstream services: the user ID for
// registered principals, the demo subject otherwise.
func (p *Principal) Subject() string {
	if p.Demo {
		return DemoSubject
	}
	return p.ID.String()
}

// Owns reports whether the principal may read or write a row scoped to
// userID. The demo principal owns no persisted rows.
func (p *Principal) Owns(userID uuid.UUID) bool {
	if p.Demo {
		return false
	}
	return p.ID == userID
}
