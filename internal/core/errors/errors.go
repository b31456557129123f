package errors

import "errors"

// Domain errors for the realtime hub. All failures are local to one
// connection and never fatal to the hub process.
var (
	// Authentication
	ErrMissingCredential = errors.New("missing authentication credential")
	ErrInvalidCredential = errors.New("invalid or malformed credential")
	ErrExpiredCredential = errors.New("expired credential")

	// Event validation
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingOrgScope  = errors.New("event missing organization id")
	ErrMissingProject   = errors.New("event missing project id")
	ErrMissingChannel   = errors.New("event missing channel id")
	ErrMissingTarget    = errors.New("notification missing target user id")
	ErrInvalidStatus    = errors.New("invalid presence status")

	// Delivery
	ErrConnectionClosed  = errors.New("connection closed")
	ErrCapacityExceeded  = errors.New("outbound buffer capacity exceeded")
	ErrHubQueueFull      = errors.New("hub command queue full")
	ErrHubStopped        = errors.New("hub stopped")
	ErrConnectionUnknown = errors.New("connection not registered")
)

// AppError wraps errors with the context needed for the HTTP handshake
// surface.
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewUnauthorizedError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "UNAUTHORIZED",
		StatusCode: 401,
	}
}

func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "An unexpected error occurred",
		Code:       "INTERNAL_ERROR",
		StatusCode: 500,
	}
}
