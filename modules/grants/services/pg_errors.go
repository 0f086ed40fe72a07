package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func mapPgErrorToServiceError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, CodeNotFound, "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		switch pgErr.ConstraintName {
		case "grants_grant_calls_code_key":
			return newServiceError(http.StatusConflict, CodeCodeConflict, "grant call code already exists", err)
		case "grants_cycles_name_year_key":
			return newServiceError(http.StatusConflict, CodeConflict, "cycle already exists", err)
		case "grants_mou_workplans_workplan_id_key":
			return newServiceError(http.StatusConflict, CodeMOUConflict, "workplan is already part of an mou", err)
		case "grants_mous_code_key":
			return newServiceError(http.StatusConflict, CodeMOUConflict, "mou code already exists", err)
		case "grants_tranches_cycle_id_number_key":
			return newServiceError(http.StatusConflict, CodeConflict, "tranche number already exists", err)
		default:
			return newServiceError(http.StatusConflict, CodeConflict, "unique constraint violated", err)
		}
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		switch {
		case strings.Contains(pgErr.ConstraintName, "grant_call"):
			return newServiceError(http.StatusUnprocessableEntity, CodeReferenceNotFound, "grant call not found", err)
		case strings.Contains(pgErr.ConstraintName, "cycle"):
			return newServiceError(http.StatusUnprocessableEntity, CodeReferenceNotFound, "cycle not found", err)
		case strings.Contains(pgErr.ConstraintName, "workplan"):
			return newServiceError(http.StatusUnprocessableEntity, CodeReferenceNotFound, "workplan not found", err)
		default:
			return newServiceError(http.StatusUnprocessableEntity, CodeReferenceNotFound, "foreign key violation", err)
		}
	case "23514": // check_violation
		recordWriteConflict("check")
		if strings.HasSuffix(pgErr.ConstraintName, "_amount_check") {
			return newServiceError(http.StatusUnprocessableEntity, CodeValidationFailed, "amount is out of range", err)
		}
		return newServiceError(http.StatusUnprocessableEntity, CodeValidationFailed, "check constraint violated", err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		recordWriteConflict("serialization")
		return newServiceError(http.StatusConflict, CodeConflict, "concurrent update, retry the request", err)
	default:
		return newServiceError(http.StatusInternalServerError, CodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
