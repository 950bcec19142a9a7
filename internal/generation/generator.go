package generation

import "context"

// Generator is the single capability the task core needs from a language
// model backend. Implementations wrap exactly one external service and
// normalize its failures to the errors in errors.go. They never retry;
// retry policy belongs to the worker loop.
type Generator interface {
	// Generate produces the model's text response for the given prompt.
	// The context bounds the call; an exceeded deadline is reported as a
	// backend failure like any other transport problem.
	Generate(ctx context.Context, prompt string) (string, error)
}
