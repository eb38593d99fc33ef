package render

import "fmt"

// Error codes
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeBrowser        = "BROWSER_ERROR"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
)

// Error is a render failure with a stable code for callers that need to
// distinguish bad input from browser trouble.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}
