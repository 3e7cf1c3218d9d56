package shopassist

import (
	"errors"
	"fmt"
	"net"
)

// ErrSessionNotFound is returned by GetSession for unknown sessions.
var ErrSessionNotFound = errors.New("chat session not found")

// LLMError is an error reported by a chat backend with an HTTP-like status code.
type LLMError struct {
	Code    int
	Message string
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

// ValidationError rejects a chat request before any external call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// InvalidInputError is returned by the intent extractor when there is neither text nor image.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Message
}

// ExtractionFailedError means the model did not produce a usable structured intent.
type ExtractionFailedError struct {
	Err error
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("intent extraction failed: %v", e.Err)
}

func (e *ExtractionFailedError) Unwrap() error { return e.Err }

// SearchError means the catalog could not be queried.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("product search for %q failed: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// SynthesisError means the model failed to produce reply text.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("response synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// PersistenceError wraps history store failures.
type PersistenceError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s for session %s failed: %v", e.Op, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// isTransient reports whether err is worth a single retry: network timeouts and 5xx/429 backend errors.
func isTransient(err error) bool {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Code >= 500 || llmErr.Code == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
