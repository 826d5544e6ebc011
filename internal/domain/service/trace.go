package service

import "github.com/google/uuid"

// NewTraceID mints the per-request correlation id stamped on every
// event for that request.
func NewTraceID() string {
	return uuid.NewString()
}
