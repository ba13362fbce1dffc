// Package worker defines the AI worker abstraction: something that takes a
// prompt and returns a response. Implementations talk to a concrete AI
// service; the orchestrator only sees this interface plus the structured
// failures workers surface for classification.
package worker

import (
	"context"
)

// AIWorker sends one prompt to an AI service and returns the response text.
// Send blocks until the service answers, the context is cancelled, or the
// attempt fails. Failures that the caller may want to retry carry a
// *domain.Failure in their chain.
type AIWorker interface {
	// ID returns the tool identifier this worker is registered under.
	ID() string

	// Send dispatches a single prompt and returns the response text.
	Send(ctx context.Context, prompt string) (string, error)
}
