package services

import "errors"

// Failure kinds surfaced by the core operations. Handlers map these to
// HTTP statuses; everything else is an internal error.
var (
	// ErrValidation covers caller mistakes: non-positive amounts,
	// self-transfers, malformed status targets.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds rejects a mutation that would leave a balance
	// negative. No partial mutation is ever applied.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound covers unknown usernames and unknown record ids.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity covers decrypt failures and duplicate reference
	// codes. Surfaced to callers as an opaque internal error.
	ErrIntegrity = errors.New("data integrity error")

	// ErrConflict is an optimistic-lock failure on a balance row.
	// Operations retry a bounded number of times before surfacing it.
	ErrConflict = errors.New("concurrent update conflict")
)

// maxConflictRetries bounds transparent retries of a whole unit of work
// after a version conflict.
const maxConflictRetries = 3

func retryOnConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
