package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/modules/grants/domain/report"
	"github.com/fsystem/portal/modules/grants/domain/serial"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
)

const (
	CodeNotFound              = "GRANTS_NOT_FOUND"
	CodeInvalidBody           = "GRANTS_INVALID_BODY"
	CodeInvalidQuery          = "GRANTS_INVALID_QUERY"
	CodeValidationFailed      = "GRANTS_VALIDATION_FAILED"
	CodeCycleClosed           = "GRANTS_CYCLE_CLOSED"
	CodeGrantCallOverdrawn    = "GRANTS_GRANT_CALL_OVERDRAWN"
	CodeInsufficientRemaining = "GRANTS_INSUFFICIENT_REMAINING"
	CodeInvalidTransition     = "GRANTS_INVALID_TRANSITION"
	CodeTranchesExceed        = "GRANTS_TRANCHES_EXCEED_INCLUDED"
	CodeAllocationsExceed     = "GRANTS_ALLOCATIONS_EXCEED_INCLUDED"
	CodeTrancheReleased       = "GRANTS_TRANCHE_RELEASED"
	CodeReportOverspent       = "GRANTS_REPORT_OVERSPENT"
	CodeWorkplanNotAllocated  = "GRANTS_WORKPLAN_NOT_ALLOCATED"
	CodeMOUMixedERR           = "GRANTS_MOU_MIXED_ERR"
	CodeMOUConflict           = "GRANTS_MOU_CONFLICT"
	CodeCodeConflict          = "GRANTS_CODE_CONFLICT"
	CodeConflict              = "GRANTS_CONFLICT"
	CodeReferenceNotFound     = "GRANTS_REFERENCE_NOT_FOUND"
	CodeInternal              = "GRANTS_INTERNAL"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func notFound(what string) *ServiceError {
	return newServiceError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func validationError(err error) *ServiceError {
	return newServiceError(http.StatusUnprocessableEntity, CodeValidationFailed, err.Error(), err)
}

func cycleClosed() *ServiceError {
	return newServiceError(http.StatusConflict, CodeCycleClosed, "cycle is closed", nil)
}

func insufficientRemaining(msg string) *ServiceError {
	recordWriteConflict("remaining")
	return newServiceError(http.StatusConflict, CodeInsufficientRemaining, msg, nil)
}

func invalidTransition(err error) *ServiceError {
	recordWriteConflict("transition")
	return newServiceError(http.StatusConflict, CodeInvalidTransition, err.Error(), err)
}

// mapError turns domain and database errors into a *ServiceError. Errors that
// already are service errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	var te *workplan.TransitionError
	if errors.As(err, &te) {
		return invalidTransition(err)
	}
	var se *report.StatusError
	if errors.As(err, &se) {
		return invalidTransition(err)
	}

	for _, target := range domainValidationErrors {
		if errors.Is(err, target) {
			return validationError(err)
		}
	}
	return mapPgErrorToServiceError(err)
}

var domainValidationErrors = []error{
	budget.ErrInvalidCode,
	budget.ErrInvalidAmount,
	budget.ErrNegative,
	budget.ErrInvalidYear,
	budget.ErrNameRequired,
	budget.ErrStateRequired,
	workplan.ErrTitleRequired,
	workplan.ErrERRRequired,
	workplan.ErrStateRequired,
	workplan.ErrInvalidAmount,
	workplan.ErrUnknownStatus,
	mou.ErrNoWorkplans,
	mou.ErrDuplicate,
	mou.ErrPartnerRequired,
	mou.ErrInvalidDateRange,
	mou.ErrMissingSerial,
	report.ErrInvalidPeriod,
	report.ErrNoLines,
	report.ErrInvalidLine,
	report.ErrNegativeCount,
	report.ErrFamiliesTooLarge,
	report.ErrNarrative,
	serial.ErrInvalidState,
	serial.ErrInvalidDonorCode,
	serial.ErrInvalidGrantSerial,
	serial.ErrInvalidWorkplanSerial,
}
