package db

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Class is a coarse classification of a profile-store error.
type Class int

const (
	ClassNone Class = iota
	// ClassTransient errors may succeed on a later attempt (network, timeout, overload).
	ClassTransient
	// ClassAuthorization errors mean the caller is not allowed to read or write the row.
	ClassAuthorization
	// ClassUniqueViolation is a unique constraint conflict.
	ClassUniqueViolation
	// ClassOther is any other failure.
	ClassOther
)

// Classify maps err to a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return ClassUniqueViolation
		case pgErr.Code == pgerrcode.InsufficientPrivilege,
			pgerrcode.IsInvalidAuthorizationSpecification(pgErr.Code):
			return ClassAuthorization
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code),
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected:
			return ClassTransient
		}
		return ClassOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return ClassTransient
	}
	if pgconn.SafeToRetry(err) || strings.Contains(err.Error(), "connection refused") {
		return ClassTransient
	}
	return ClassOther
}

// ConstraintName returns the violated constraint name, or "".
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
