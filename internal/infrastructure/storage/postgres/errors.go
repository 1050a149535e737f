package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"backoffice/internal/core/apperror"
)

const (
	pgUniqueViolation    = "23505"
	pgQueryCanceled      = "57014"
	pgConnectionFailure  = "08006"
	pgCannotConnectNow   = "57P03"
	pgSerializationError = "40001"
)

// translate maps driver failures onto AppErrors. Errors that are already
// AppErrors pass through unchanged.
func translate(err error) error {
	if err == nil || apperror.IsAppError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperror.NewDuplicate(pgErr.TableName, pgErr.ConstraintName, pgErr.Detail).WithCause(err)
		case pgQueryCanceled, pgConnectionFailure, pgCannotConnectNow, pgSerializationError:
			return apperror.NewUnavailable("database", err)
		}
		return apperror.NewInternal(err)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apperror.NewUnavailable("database", err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperror.NewUnavailable("database", err)
	}
	return err
}

// Translate is translate for repositories in sibling packages.
func Translate(err error) error {
	return translate(err)
}
