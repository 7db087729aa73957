package bulkimport

import "errors"

// Error taxonomy shared by the API layer and the pipeline. Stage code wraps
// these with fmt.Errorf("...: %w", ...) so callers can classify with
// errors.Is while the file/job error_message keeps the full detail.
var (
	ErrValidation        = errors.New("validation error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrProvider          = errors.New("provider error")
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("timeout")
	ErrConflict          = errors.New("conflict")
)
