package eventual

import "errors"

var (
	// ErrInterruptWork aborts a work unit: the transaction is rolled back and the
	// error is not returned to the caller of CreateWorkUnit.
	ErrInterruptWork = errors.New("interrupt work")

	// ErrIntegrityViolation wraps the storage rejection of a second completion record
	// for the same event id.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrWorkUnitDone is returned when a store is called with the context of a work
	// unit whose scope already ended.
	ErrWorkUnitDone = errors.New("work unit is already done")

	ErrEventIDMissing = errors.New("event body has no id")
)
