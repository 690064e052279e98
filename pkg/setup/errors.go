package setup

import "errors"

// Failure categories of the configuration workflow. All of them are terminal
// for a run except ErrInvalidSelection, which the selector recovers from by
// prompting again.
var (
	ErrServerUnreachable  = errors.New("LM Studio server unreachable")
	ErrEmptyModelList     = errors.New("no models loaded")
	ErrInvalidSelection   = errors.New("invalid selection")
	ErrSelectionCancelled = errors.New("selection cancelled")
	ErrValidationFailed   = errors.New("model validation failed")
	ErrConfigWrite        = errors.New("failed to write configuration")
)
