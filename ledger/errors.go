/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. The HTTP layer maps them to status
  codes with the classification helpers at the bottom; nothing outside
  this package needs to know the concrete types.

ERROR CATEGORIES:
  1. Validation errors - malformed or missing fields, caught before any
     store access
  2. Not-found errors - reference to a nonexistent lot/treatment/movement
  3. Invariant violations - a mutation that would let shipped kilograms
     exceed treated or received kilograms
  4. Referential integrity - deleting a lot that still has dependents

All four are recoverable by the caller adjusting input; none leave
partial state behind.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLotNotFound is returned when a referenced seed lot does not exist.
	ErrLotNotFound = errors.New("lot not found")

	// ErrTreatmentNotFound is returned when a treatment id does not exist.
	ErrTreatmentNotFound = errors.New("treatment not found")

	// ErrMovementNotFound is returned when a movement id does not exist.
	ErrMovementNotFound = errors.New("movement not found")

	// ErrInvalidUnit is returned by the converter for an unknown unit tag.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrValidation is the root of all field-level validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrInvariant is the root of all balance invariant violations.
	ErrInvariant = errors.New("invariant violation")

	// ErrLotHasDependents is returned when deleting a lot that still has
	// treatments or movements referencing it.
	ErrLotHasDependents = errors.New("lot has linked treatments or movements")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Invariant rejection codes. The code is stable for clients; the
// message is for humans.
const (
	CodeExceedsTreatedAvailable = "exceeds_treated_available"
	CodeExceedsLotBalance       = "exceeds_lot_balance"
	CodeBelowMovedVolume        = "below_moved_volume"
	CodeMovementsExceedTreated  = "movements_exceed_treated"
)

// InvariantError reports a mutation rejected by the balance checks.
type InvariantError struct {
	Code        string
	Message     string
	LotID       string
	RequestedKg float64
	AvailableKg float64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s (lot %s, requested %.3f kg, available %.3f kg)",
		e.Code, e.Message, e.LotID, e.RequestedKg, e.AvailableKg)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// FieldError reports a single invalid or missing input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrTreatmentNotFound) ||
		errors.Is(err, ErrMovementNotFound)
}

// IsClientError returns true if the error is due to invalid client
// input rather than a store failure. Not-found errors are classified
// separately.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvariant) ||
		errors.Is(err, ErrInvalidUnit) ||
		errors.Is(err, ErrLotHasDependents)
}
