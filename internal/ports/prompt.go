package ports

import "context"

// PromptPort asks the user to pick one of choices. A timeout of zero
// returns defaultChoice without asking; a negative timeout waits
// indefinitely.
type PromptPort interface {
	Confirm(ctx context.Context, message string, choices []string, defaultChoice string, timeoutSeconds int) (string, error)
}
