package store

import (
	"context"
	"time"

	"qms/queue-ticketing/internal/models"
)

type CreateCounterInput struct {
	Name      string
	MaxQueue  int
	IsActive  bool
	CreatedAt time.Time
}

type ClaimInput struct {
	ClaimedAt time.Time
}

type ReleaseInput struct {
	CounterID  int64
	Number     int
	ReleasedAt time.Time
}

type CounterActionInput struct {
	CounterID  int64
	OccurredAt time.Time
}

type ResetAllInput struct {
	OccurredAt time.Time
}

// QueueStore persists counters and tickets. Every mutating method runs as a
// single atomic unit in the backing store.
type QueueStore interface {
	CreateCounter(ctx context.Context, input CreateCounterInput) (models.Counter, error)
	FindCounterByName(ctx context.Context, name string) (models.Counter, bool, error)
	// GetCounter returns ErrCounterNotFound for missing or soft-deleted counters.
	GetCounter(ctx context.Context, counterID int64) (models.Counter, error)
	CounterSnapshots(ctx context.Context, includeInactive bool) ([]models.CounterSnapshot, error)

	// ClaimTicket returns ErrNoActiveCounter when no counter can issue tickets.
	ClaimTicket(ctx context.Context, input ClaimInput) (models.Ticket, models.Counter, error)
	// ReleaseTicket returns ErrTicketNotFound when no matching CLAIMED ticket exists.
	ReleaseTicket(ctx context.Context, input ReleaseInput) (models.Ticket, error)
	// CallNext and SkipCalled return ErrNoTicket when nothing is waiting.
	CallNext(ctx context.Context, input CounterActionInput) (models.Ticket, error)
	SkipCalled(ctx context.Context, input CounterActionInput) (models.Ticket, error)
	ResetCounter(ctx context.Context, input CounterActionInput) (int64, error)
	ResetAll(ctx context.Context, input ResetAllInput) (int64, error)

	SearchByNumber(ctx context.Context, number int) ([]models.TicketRecord, error)
	SearchByCounterName(ctx context.Context, query string) ([]models.TicketRecord, error)
	ListTickets(ctx context.Context, statuses []string) ([]models.TicketRecord, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

func NowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
