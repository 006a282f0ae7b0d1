package app

import (
	"fmt"
	"net/http"

	"orbit/api/internal/access"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errIdentityConflict() *DomainError {
	return domainError(http.StatusConflict, "IDENTITY_CONFLICT", "Identity is already claimed by another account", nil)
}

func errExpiredIdentity() *DomainError {
	return domainError(http.StatusGone, "EXPIRED_IDENTITY", "Identity has expired and can no longer be claimed", nil)
}

// errPermission carries the evaluator's denial reason so clients can
// distinguish a missing invite from a field restriction.
func errPermission(reason access.Reason) *DomainError {
	message := "Permission denied"
	switch reason {
	case access.ReasonNotAuthor:
		message = "Only the author may modify this note"
	case access.ReasonAdminFieldRestricted:
		message = "Board admins may only reposition other people's notes"
	case access.ReasonNoInvite:
		message = "This private board requires an invite"
	case access.ReasonPrivateBoardNoAccess:
		message = "This board is private"
	}
	return domainError(http.StatusForbidden, "PERMISSION_DENIED", message, map[string]any{"reason": string(reason)})
}
