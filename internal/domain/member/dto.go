package member

import (
	"time"

	"github.com/google/uuid"
)

// RegisterRequest for POST /members
type RegisterRequest struct {
	Email   string `json:"email" validate:"required,email,max=255"`
	Name    string `json:"name" validate:"required,notblank,min=2,max=100"`
	Contact string `json:"contact" validate:"omitempty,max=255"`
}

// MemberResponse represents member in API response
type MemberResponse struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Contact    string    `json:"contact,omitempty"`
	Role       Role      `json:"role"`
	Balance    int64     `json:"balance"`
	IsApproved bool      `json:"is_approved"`
	CreatedAt  time.Time `json:"created_at"`
}

// MemberResponseFromEntity converts entity to response
func MemberResponseFromEntity(m *Member) *MemberResponse {
	resp := &MemberResponse{
		ID:         m.ID,
		Email:      m.Email,
		Name:       m.Name,
		Role:       m.Role,
		Balance:    m.Balance,
		IsApproved: m.IsApproved,
		CreatedAt:  m.CreatedAt,
	}
	if m.Contact != nil {
		resp.Contact = *m.Contact
	}
	return resp
}
