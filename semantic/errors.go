package semantic

import "errors"

// ErrHostNotReady is returned when the vendor's analysis window never
// appeared (or the vendor process died) within the retry budget.
var ErrHostNotReady = errors.New("semantic: vendor host not ready")

// ErrElementNotFound is returned when a required control cannot be located
// under any configured locale.
var ErrElementNotFound = errors.New("semantic: element not found")

// ErrExportNotVerified is returned when the save dialog was driven but the
// expected artifact never materialised on disk.
var ErrExportNotVerified = errors.New("semantic: export not verified on disk")

// ErrSoftBudgetExhausted is returned when configuration sub-steps failed
// more times than the per-file tolerance allows.
var ErrSoftBudgetExhausted = errors.New("semantic: soft failure budget exhausted")
