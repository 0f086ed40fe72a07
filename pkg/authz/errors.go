package authz

import "fmt"

const ErrorCodeForbidden = "AUTHZ_FORBIDDEN"

// ForbiddenError is returned by Authorize in enforce mode when a request is denied.
type ForbiddenError struct {
	Request Request
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("permission denied: %s cannot %s %s", e.Request.Subject, e.Request.Action, e.Request.Object)
}

func (e *ForbiddenError) Code() string {
	return ErrorCodeForbidden
}

func configError(msg string, args ...any) error {
	return fmt.Errorf("authz: "+msg, args...)
}
