package store

import "github.com/juju/errors"

const (
	ErrCounterNotFound  = errors.ConstError("counter not found")
	ErrNoActiveCounter  = errors.ConstError("no active counter")
	ErrInvalidCounter   = errors.ConstError("invalid counter")
	ErrNoTicket         = errors.ConstError("no ticket available")
	ErrTicketNotFound   = errors.ConstError("ticket not found")
	ErrCounterNameTaken = errors.ConstError("counter name already in use")
)
