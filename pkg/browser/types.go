package browser

import "fmt"

// BrowserError carries a stable code for failures of the Chrome process or
// its pages.
type BrowserError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BrowserError) Error() string {
	return e.Message
}

func errorf(code, format string, args ...interface{}) *BrowserError {
	return &BrowserError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error codes
const (
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
	ErrCodeScriptExecution = "SCRIPT_EXECUTION_ERROR"
)
