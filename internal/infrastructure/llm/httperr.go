package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransportError wraps a client-side HTTP failure, distinguishing
// deadline and cancellation from plain transport faults.
func TransportError(backend string, err error) *BackendError {
	kind := FailTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = FailTimeout
	} else if errors.Is(err, context.Canceled) {
		kind = FailCancelled
	}
	return &BackendError{Backend: backend, Kind: kind, Message: err.Error(), Err: err}
}

// StatusError classifies a non-2xx response. 401/403 map to AUTH,
// other 4xx to BAD_REQUEST except 429, everything else to SERVER_ERROR.
func StatusError(backend string, status int, body []byte) *BackendError {
	kind := FailServerError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = FailAuth
	case status == http.StatusTooManyRequests:
		kind = FailServerError
	case status >= 400 && status < 500:
		kind = FailBadRequest
	}
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &BackendError{Backend: backend, Kind: kind, Status: status, Message: fmt.Sprintf("http %d: %s", status, msg)}
}
