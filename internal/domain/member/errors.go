package member

import "github.com/timebank/timebank-api/internal/pkg/apperror"

var (
	ErrMemberNotFound = apperror.New(apperror.KindNotFound, "member not found")
	ErrMemberExists   = apperror.New(apperror.KindConflict, "member profile already exists")
	ErrNotApproved    = apperror.New(apperror.KindForbidden, "member is not approved yet")
)
