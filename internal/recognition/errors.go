package recognition

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers transport failures and service-side rejections.
	ErrNetwork = errors.New("recognition request failed")
	// ErrNoMatch means the service found no song for the sample.
	ErrNoMatch = errors.New("no matching song found")
	// ErrMalformedResponse means the service answered with an unparseable body.
	ErrMalformedResponse = errors.New("malformed recognition response")
	// ErrNotConfigured means the backend is missing credentials or an endpoint.
	ErrNotConfigured = errors.New("recognition service not configured")
)

// ServiceError is a non-success status reported by the recognition service.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("recognition service error %d: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return ErrNetwork
}

// ACRCloud status codes with dedicated handling.
const (
	statusSuccess          = 0
	statusNoResult         = 1001
	statusCannotGenerateFP = 2004
	statusInvalidParams    = 3000
	statusInvalidKey       = 3001
	statusLimitExceeded    = 3003
)

// statusError maps a non-zero service status onto the error taxonomy.
func statusError(code int, msg string) error {
	switch code {
	case statusNoResult:
		return ErrNoMatch
	case statusCannotGenerateFP:
		return &ServiceError{Code: code, Message: "could not fingerprint the audio; record clearer music for at least 10 seconds"}
	case statusInvalidParams:
		return &ServiceError{Code: code, Message: "invalid parameters: " + msg}
	case statusInvalidKey:
		return &ServiceError{Code: code, Message: "invalid access key"}
	case statusLimitExceeded:
		return &ServiceError{Code: code, Message: "request quota exhausted"}
	default:
		return &ServiceError{Code: code, Message: msg}
	}
}
