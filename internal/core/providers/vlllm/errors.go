package vlllm

import "fmt"

// ProviderError is a failed call that reached the model service. StatusCode
// is zero when the service reported an error without one.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// HTTPStatus exposes the upstream status for failure classification.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }
