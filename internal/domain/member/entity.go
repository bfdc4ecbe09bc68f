package member

import (
	"time"

	"github.com/google/uuid"
)

// Role represents member role
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Member is a participant of the time bank (matches members table)
type Member struct {
	ID         uuid.UUID `db:"id"`
	Email      string    `db:"email"`
	Name       string    `db:"name"`
	Contact    *string   `db:"contact"`
	Role       Role      `db:"role"`
	Balance    int64     `db:"balance"`
	IsApproved bool      `db:"is_approved"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// IsAdmin returns true if member is an admin
func (m *Member) IsAdmin() bool {
	return m.Role == RoleAdmin
}
