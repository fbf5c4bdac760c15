package compliance

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the compliance service.
var (
	ErrInvalidShipID        = errors.New("invalid ship id")
	ErrInvalidYear          = errors.New("invalid year")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidVesselType    = errors.New("invalid vessel type")
	ErrInvalidFuelType      = errors.New("invalid fuel type")
	ErrInvalidRoute         = errors.New("invalid route")
	ErrInvalidBaseline      = errors.New("invalid baseline")
	ErrInvalidServiceConfig = errors.New("invalid service config")

	ErrEmptyPool           = errors.New("pool requires at least one member")
	ErrDuplicatePoolMember = errors.New("duplicate pool member")
	ErrPoolInvalid         = errors.New("pool validation failed")
	ErrPoolAllocation      = errors.New("pool allocation failed")

	ErrComplianceNotFound = errors.New("compliance balance not found")
	ErrRouteNotFound      = errors.New("route not found")
	ErrBaselineNotSet     = errors.New("no baseline route set")
	ErrPoolNotFound       = errors.New("pool not found")

	ErrNonPositiveBalance = errors.New("cannot bank negative or zero compliance balance")
	ErrBankExceedsBalance = errors.New("cannot bank more than available compliance balance")
	ErrInsufficientBanked = errors.New("insufficient banked surplus")

	ErrBalanceExists = errors.New("compliance balance already exists")
	ErrRouteExists   = errors.New("route already exists")
)

// ErrorKind classifies failures for boundary translation.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "not_found"
	KindValidationFailed      ErrorKind = "validation_failed"
	KindBusinessRuleViolation ErrorKind = "business_rule_violation"
	KindInternalConsistency   ErrorKind = "internal_consistency"
	KindInternal              ErrorKind = "internal"
)

var errorKinds = []struct {
	target error
	kind   ErrorKind
}{
	{ErrComplianceNotFound, KindNotFound},
	{ErrRouteNotFound, KindNotFound},
	{ErrBaselineNotSet, KindNotFound},
	{ErrPoolNotFound, KindNotFound},
	{ErrPoolAllocation, KindInternalConsistency},
	{ErrNonPositiveBalance, KindBusinessRuleViolation},
	{ErrBankExceedsBalance, KindBusinessRuleViolation},
	{ErrInsufficientBanked, KindBusinessRuleViolation},
	{ErrRouteExists, KindBusinessRuleViolation},
	{ErrInvalidShipID, KindValidationFailed},
	{ErrInvalidYear, KindValidationFailed},
	{ErrInvalidAmount, KindValidationFailed},
	{ErrInvalidVesselType, KindValidationFailed},
	{ErrInvalidFuelType, KindValidationFailed},
	{ErrInvalidRoute, KindValidationFailed},
	{ErrInvalidBaseline, KindValidationFailed},
	{ErrEmptyPool, KindValidationFailed},
	{ErrDuplicatePoolMember, KindValidationFailed},
	{ErrPoolInvalid, KindValidationFailed},
}

// KindOf resolves the kind of err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.target) {
			return candidate.kind
		}
	}
	return KindInternal
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
