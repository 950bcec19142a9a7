package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by Generator implementations
var (
	// ErrBackendFailure is returned for any transport, authentication,
	// quota or timeout condition from the backend. It is the only error
	// class the worker loop retries.
	ErrBackendFailure = errors.New("language model backend failure")

	// ErrContentBlocked is returned when the model refuses the prompt on
	// safety grounds. It wraps ErrBackendFailure so callers that only
	// distinguish "backend problem" keep working.
	ErrContentBlocked = fmt.Errorf("%w: content blocked by safety filters", ErrBackendFailure)

	// ErrInvalidResponse is returned when the model answers with an empty
	// or malformed payload.
	ErrInvalidResponse = fmt.Errorf("%w: empty or malformed model response", ErrBackendFailure)

	// ErrInvalidConfig is returned when a generator cannot be constructed
	// from its configuration.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)
