package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthorized covers failed sign-in only. Requests without a valid
	// token are rejected by the auth middleware before reaching a service.
	ErrUnauthorized = errors.New("unauthorized")
)

// Failure reasons carried alongside the sentinel kind. The request layer
// returns them verbatim so clients can branch without parsing messages.
const (
	ReasonAlreadyFriends  = "already_friends"
	ReasonSelfFriend      = "self_friend"
	ReasonNotFriends      = "not_friends"
	ReasonNotMember       = "not_member"
	ReasonForbidden       = "forbidden"
	ReasonAlreadyMember   = "already_member"
	ReasonNotFriend       = "not_friend"
	ReasonTargetNotMember = "target_not_member"
	ReasonCannotKickOwner = "cannot_kick_owner"
	ReasonPeersCannotKick = "peers_cannot_kick"
	ReasonNotOwner        = "not_owner"
	ReasonLinkCodeTaken   = "link_code_taken"
	ReasonBadCredentials  = "bad_credentials"
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Reason  string // Optional: machine-readable failure name
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %v", resource, id),
	}
}

// NotFoundReason is NotFound with a domain-specific reason and message,
// e.g. a kick target that is not in the group.
func NotFoundReason(reason, message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
		Reason:  reason,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(reason, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Reason:  reason,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission:
// not friends, not a member, or an insufficient role.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(reason, message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
		Reason:  reason,
	}
}

func Unauthorized(reason, message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
		Reason:  reason,
	}
}

// ReasonOf returns the Reason of the first *AppError in err's chain, or "".
func ReasonOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}
