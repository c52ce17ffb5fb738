package models

import "time"

type Ticket struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Status    string    `json:"status"`
	CounterID int64     `json:"counterId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TicketRecord is a ticket joined with the name of its owning counter.
type TicketRecord struct {
	Ticket
	CounterName string
}

const (
	StatusClaimed  = "CLAIMED"
	StatusCalled   = "CALLED"
	StatusReleased = "RELEASED"
	StatusSkipped  = "SKIPPED"
	StatusServed   = "SERVED"
	StatusReset    = "RESET"
)

// ListedStatuses are the statuses included when listing all queues. SERVED
// is accepted as a filter value although no operation assigns it.
var ListedStatuses = []string{StatusClaimed, StatusCalled, StatusServed, StatusSkipped}

type Metrics struct {
	Waiting  int `json:"waiting"`
	Called   int `json:"called"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
}
