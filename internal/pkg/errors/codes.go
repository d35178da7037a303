package errors

import "net/http"

// Error codes are stable machine-readable identifiers. Clients branch on the
// code; the message is for humans and logs only.

// Auth error codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)

// Validation error codes.
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeRecipientRequired = "RECIPIENT_REQUIRED"
	CodeInvalidCursor     = "INVALID_CURSOR"
)

// Notification error codes.
const (
	CodeNotificationWriteFailed = "NOTIFICATION_WRITE_FAILED"
	CodeBroadcastFailed         = "BROADCAST_FAILED"
)

// Platform error codes.
const (
	CodeInternal    = "INTERNAL_ERROR"
	CodeRateLimited = "RATE_LIMITED"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrRecipientRequired is returned when an internal create names neither a
// user nor a broadcast role.
func ErrRecipientRequired() *AppError {
	return &AppError{
		Code:       CodeRecipientRequired,
		Message:    "either userId or broadcastRole is required",
		HTTPStatus: http.StatusBadRequest,
	}
}

// ErrInvalidCursorf reports an unparseable after/before query parameter.
func ErrInvalidCursorf(param string) *AppError {
	return &AppError{
		Code:       CodeInvalidCursor,
		Message:    "invalid cursor parameter: " + param,
		HTTPStatus: http.StatusBadRequest,
		Params:     map[string]interface{}{"param": param},
	}
}

// ErrWriteFailed wraps a store failure during notification creation.
// Internal callers are expected to retry on this code.
func ErrWriteFailed(err error) *AppError {
	return Wrap(err, CodeNotificationWriteFailed, "notification could not be stored", http.StatusInternalServerError)
}
