package persistence

import (
	"CricLedger/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeInvalidText         = "22P02"
	codeNumericOverflow     = "22003"
	codeLockNotAvailable    = "55P03"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeQueryCanceled       = "57014"
	codeAdminShutdown       = "57P01"
	codeConnectionFailure   = "08006"
)

// Constraint names from migrations/ that map to a specific domain error.
const (
	constraintTxReference     = "ledger_transactions_reference_key"
	constraintEntryUnique     = "entries_contest_owner_entry_key"
	constraintEntryLimit      = "entries_entry_no_within_limit"
	constraintEntryCountMax   = "contests_entry_count_max"
	constraintWithdrawalsPkey = "withdrawals_pkey"
	constraintContestsPkey    = "contests_pkey"
)

// mapError converts a database/sql or lib/pq error into a domain error.
// Errors it cannot classify are returned wrapped with op and are retried by
// the caller as transient I/O.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Errorf(domain.ErrNotFound, "%s", op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Errorf(domain.ErrTransient, "%s: %v", op, err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch string(pqErr.Code) {
	case codeUniqueViolation:
		switch pqErr.Constraint {
		case constraintEntryUnique:
			return domain.Errorf(domain.ErrAlreadyJoined, "%s", op)
		case constraintContestsPkey:
			return domain.Errorf(domain.ErrValidation, "%s: contest already exists", op)
		default:
			return domain.Errorf(domain.ErrDuplicateEvent, "%s: %s", op, pqErr.Constraint)
		}
	case codeCheckViolation:
		switch pqErr.Constraint {
		case constraintEntryCountMax:
			return domain.Errorf(domain.ErrContestFull, "%s", op)
		case constraintEntryLimit:
			return domain.Errorf(domain.ErrAlreadyJoined, "%s: per-owner entry limit", op)
		}
		return domain.Errorf(domain.ErrIntegrityViolation, "%s: %s", op, pqErr.Constraint)
	case codeForeignKeyViolation:
		return domain.Errorf(domain.ErrNotFound, "%s: %s", op, pqErr.Detail)
	case codeNotNullViolation, codeNumericOverflow:
		return domain.Errorf(domain.ErrIntegrityViolation, "%s: %s", op, pqErr.Message)
	case codeInvalidText:
		return domain.Errorf(domain.ErrValidation, "%s: %s", op, pqErr.Message)
	case codeLockNotAvailable, codeSerialization, codeDeadlock:
		return domain.Errorf(domain.ErrConcurrencyConflict, "%s: %s", op, pqErr.Message)
	case codeQueryCanceled, codeAdminShutdown, codeConnectionFailure:
		return domain.Errorf(domain.ErrTransient, "%s: %s", op, pqErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
