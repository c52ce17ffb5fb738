package service

import (
	"github.com/juju/errors"
)

// Error is a client-facing failure. Kind is errors.BadRequest or
// errors.NotFound; Field names the offending input when there is one.
type Error struct {
	Kind    error
	Message string
	Field   string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func badRequest(message, field string) error {
	return &Error{Kind: errors.BadRequest, Message: message, Field: field}
}

func notFound(message string) error {
	return &Error{Kind: errors.NotFound, Message: message}
}

// IsBadRequest and IsNotFound report the kind of err.
func IsBadRequest(err error) bool {
	return errors.Is(err, errors.BadRequest)
}

func IsNotFound(err error) bool {
	return errors.Is(err, errors.NotFound)
}

const (
	msgNoActiveCounters = "No active counters found"
	msgCounterNotFound  = "Counter not found"
	msgCounterInactive  = "Counter is not active"
	msgInvalidNumber    = "Invalid queue number"
	msgInvalidCounterID = "Invalid counter ID"
	msgQueueNotFound    = "Queue not found or already processed"
	msgNoClaimed        = "No claimed queues found for this counter"
	msgNoCalled         = "No called queue found for this counter"
	msgQueryRequired    = "Query parameter 'q' is required"

	fieldQueueNumber = "queueNumber"
	fieldCounterID   = "counterId"
)
