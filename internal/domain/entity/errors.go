package entity

import "errors"

var (
	// Message errors
	ErrEmptyMessage = errors.New("message content is empty")
	ErrEmptyChatID  = errors.New("chat id is empty")

	// Tool errors
	ErrToolNotFound = errors.New("tool not found")
)

// ErrorKind classifies terminal failures surfaced at module boundaries.
type ErrorKind string

const (
	KindValidation         ErrorKind = "VALIDATION"
	KindAuthz              ErrorKind = "AUTHZ"
	KindRateLimit          ErrorKind = "RATE_LIMIT"
	KindToolNotFound       ErrorKind = "TOOL_NOT_FOUND"
	KindToolValidation     ErrorKind = "TOOL_VALIDATION"
	KindToolDenied         ErrorKind = "TOOL_DENIED"
	KindToolExecution      ErrorKind = "TOOL_EXECUTION"
	KindBackendOpen        ErrorKind = "BACKEND_OPEN"
	KindBackendUnavailable ErrorKind = "BACKEND_UNAVAILABLE"
	KindTimeout            ErrorKind = "TIMEOUT"
	KindTransport          ErrorKind = "TRANSPORT"
	KindServerError        ErrorKind = "SERVER_ERROR"
	KindAuth               ErrorKind = "AUTH"
	KindBadRequest         ErrorKind = "BAD_REQUEST"
	KindAllModelsFailed    ErrorKind = "ALL_MODELS_FAILED"
	KindCancelled          ErrorKind = "CANCELLED"
)

// Transient reports whether the kind represents a backend-health signal
// that a fallback chain may recover from by trying another model.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTimeout, KindTransport, KindServerError, KindBackendOpen, KindBackendUnavailable:
		return true
	}
	return false
}

// UserMessage returns a short human-readable explanation for the kind.
// Responses shown to end users never include stack traces or diagnostics.
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindValidation:
		return "Your request could not be understood. Please rephrase and try again."
	case KindToolNotFound:
		return "The requested tool does not exist."
	case KindToolValidation:
		return "The tool was called with invalid parameters."
	case KindToolDenied:
		return "The tool call was not approved."
	case KindToolExecution:
		return "The tool failed while running."
	case KindAllModelsFailed:
		return "All language models are currently unavailable. Please try again shortly."
	case KindCancelled:
		return "The request was cancelled."
	case KindTimeout:
		return "The model took too long to respond."
	default:
		return "Something went wrong while processing your request."
	}
}
