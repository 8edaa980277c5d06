package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"visita/api/internal/auth"
	"visita/api/internal/workflow"
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

// workflowStatus maps every workflow error kind to an HTTP status. Guard and
// no-op failures are 422 because the request was well formed but rejected on
// the current record state; transition and version races are 409.
func workflowStatus(kind workflow.ErrorKind) int {
	switch kind {
	case workflow.KindInvalidTransition, workflow.KindConflictRetry:
		return http.StatusConflict
	case workflow.KindPermissionDenied:
		return http.StatusForbidden
	case workflow.KindGuardFailed, workflow.KindNothingChanged:
		return http.StatusUnprocessableEntity
	case workflow.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		return workflowStatus(wfErr.Kind), strings.ToUpper(string(wfErr.Kind)), wfErr.Message, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
