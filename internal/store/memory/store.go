package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/queue-ticketing/internal/models"
	"qms/queue-ticketing/internal/store"
)

// Store keeps counters and tickets in process memory. A single mutex makes
// every operation atomic.
type Store struct {
	mu           sync.Mutex
	counters     map[int64]*models.Counter
	tickets      []*models.Ticket
	nextCounter  int64
	nextTicketID int64
}

func NewStore() *Store {
	return &Store{counters: make(map[int64]*models.Counter)}
}

func (s *Store) CreateCounter(ctx context.Context, input store.CreateCounterInput) (models.Counter, error) {
	if input.MaxQueue <= 0 || strings.TrimSpace(input.Name) == "" {
		return models.Counter{}, store.ErrInvalidCounter
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.counters {
		if c.DeletedAt == nil && c.Name == input.Name {
			return models.Counter{}, store.ErrCounterNameTaken
		}
	}
	s.nextCounter++
	createdAt := store.NowOr(input.CreatedAt)
	counter := &models.Counter{
		ID:        s.nextCounter,
		Name:      input.Name,
		MaxQueue:  input.MaxQueue,
		IsActive:  input.IsActive,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	s.counters[counter.ID] = counter
	return *counter, nil
}

func (s *Store) FindCounterByName(ctx context.Context, name string) (models.Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.counters {
		if c.DeletedAt == nil && c.Name == name {
			return *c, true, nil
		}
	}
	return models.Counter{}, false, nil
}

func (s *Store) GetCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[counterID]
	if !ok || c.DeletedAt != nil {
		return models.Counter{}, store.ErrCounterNotFound
	}
	return *c, nil
}

// SetCounterState replaces the mutable fields of a counter. It stands in
// for the administrative actions that deactivate or soft-delete counters.
func (s *Store) SetCounterState(counterID int64, mutate func(c *models.Counter)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[counterID]
	if !ok {
		return store.ErrCounterNotFound
	}
	mutate(c)
	return nil
}

func (s *Store) CounterSnapshots(ctx context.Context, includeInactive bool) ([]models.CounterSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters := s.sortedCounters(func(c *models.Counter) bool {
		return c.DeletedAt == nil && (includeInactive || c.IsActive)
	})
	sort.SliceStable(counters, func(i, j int) bool {
		return counters[i].Name < counters[j].Name
	})

	snapshots := make([]models.CounterSnapshot, 0, len(counters))
	for _, c := range counters {
		snapshot := models.CounterSnapshot{
			ID:           c.ID,
			Name:         c.Name,
			CurrentQueue: c.CurrentQueue,
			MaxQueue:     c.MaxQueue,
			IsActive:     c.IsActive,
		}
		if latest := s.latestTicket(c.ID); latest != nil {
			status := latest.Status
			snapshot.Status = &status
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (s *Store) ClaimTicket(ctx context.Context, input store.ClaimInput) (models.Ticket, models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chosen *models.Counter
	for _, c := range s.sortedCounters(func(c *models.Counter) bool { return c.Serviceable() }) {
		if chosen == nil || c.CurrentQueue < chosen.CurrentQueue {
			chosen = c
		}
	}
	if chosen == nil {
		return models.Ticket{}, models.Counter{}, store.ErrNoActiveCounter
	}

	claimedAt := store.NowOr(input.ClaimedAt)
	number := chosen.NextNumber()
	s.nextTicketID++
	ticket := &models.Ticket{
		ID:        s.nextTicketID,
		Number:    number,
		Status:    models.StatusClaimed,
		CounterID: chosen.ID,
		CreatedAt: claimedAt,
		UpdatedAt: claimedAt,
	}
	s.tickets = append(s.tickets, ticket)
	chosen.CurrentQueue = number
	chosen.UpdatedAt = claimedAt
	return *ticket, *chosen, nil
}

func (s *Store) ReleaseTicket(ctx context.Context, input store.ReleaseInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := s.oldestTicket(func(t *models.Ticket) bool {
		return t.CounterID == input.CounterID && t.Number == input.Number &&
			store.ValidTransition(store.ActionRelease, t.Status)
	})
	if ticket == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	ticket.Status = store.TargetStatus(store.ActionRelease)
	ticket.UpdatedAt = store.NowOr(input.ReleasedAt)
	return *ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CounterActionInput) (models.Ticket, error) {
	return s.advance(input, store.ActionCall)
}

func (s *Store) SkipCalled(ctx context.Context, input store.CounterActionInput) (models.Ticket, error) {
	return s.advance(input, store.ActionSkip)
}

func (s *Store) advance(input store.CounterActionInput, action string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := s.oldestTicket(func(t *models.Ticket) bool {
		return t.CounterID == input.CounterID && store.ValidTransition(action, t.Status)
	})
	if ticket == nil {
		return models.Ticket{}, store.ErrNoTicket
	}
	ticket.Status = store.TargetStatus(action)
	ticket.UpdatedAt = store.NowOr(input.OccurredAt)
	return *ticket, nil
}

func (s *Store) ResetCounter(ctx context.Context, input store.CounterActionInput) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[input.CounterID]
	if !ok || c.DeletedAt != nil {
		return 0, store.ErrCounterNotFound
	}
	at := store.NowOr(input.OccurredAt)
	affected := s.resetTickets(at, func(t *models.Ticket) bool { return t.CounterID == c.ID })
	c.CurrentQueue = 0
	c.UpdatedAt = at
	return affected, nil
}

func (s *Store) ResetAll(ctx context.Context, input store.ResetAllInput) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := store.NowOr(input.OccurredAt)
	affected := s.resetTickets(at, func(t *models.Ticket) bool {
		c, ok := s.counters[t.CounterID]
		return ok && c.Serviceable()
	})
	for _, c := range s.counters {
		if c.Serviceable() {
			c.CurrentQueue = 0
			c.UpdatedAt = at
		}
	}
	return affected, nil
}

func (s *Store) SearchByNumber(ctx context.Context, number int) ([]models.TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records(func(t *models.Ticket, c *models.Counter) bool {
		return t.Number == number
	}), nil
}

func (s *Store) SearchByCounterName(ctx context.Context, query string) ([]models.TicketRecord, error) {
	needle := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records(func(t *models.Ticket, c *models.Counter) bool {
		return c.DeletedAt == nil && strings.Contains(strings.ToLower(c.Name), needle)
	}), nil
}

func (s *Store) ListTickets(ctx context.Context, statuses []string) ([]models.TicketRecord, error) {
	allowed := make(map[string]bool, len(statuses))
	for _, status := range statuses {
		allowed[status] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records(func(t *models.Ticket, c *models.Counter) bool {
		return allowed[t.Status]
	}), nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, t := range s.tickets {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *Store) sortedCounters(keep func(c *models.Counter) bool) []*models.Counter {
	var out []*models.Counter
	for _, c := range s.counters {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) latestTicket(counterID int64) *models.Ticket {
	var latest *models.Ticket
	for _, t := range s.tickets {
		if t.CounterID != counterID {
			continue
		}
		if latest == nil || !t.CreatedAt.Before(latest.CreatedAt) {
			latest = t
		}
	}
	return latest
}

// oldestTicket relies on tickets being appended in id order.
func (s *Store) oldestTicket(match func(t *models.Ticket) bool) *models.Ticket {
	var oldest *models.Ticket
	for _, t := range s.tickets {
		if !match(t) {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	return oldest
}

func (s *Store) resetTickets(at time.Time, match func(t *models.Ticket) bool) int64 {
	var affected int64
	for _, t := range s.tickets {
		if !match(t) || !store.ValidTransition(store.ActionReset, t.Status) {
			continue
		}
		t.Status = store.TargetStatus(store.ActionReset)
		t.UpdatedAt = at
		affected++
	}
	return affected
}

func (s *Store) records(match func(t *models.Ticket, c *models.Counter) bool) []models.TicketRecord {
	var out []models.TicketRecord
	for _, t := range s.tickets {
		c, ok := s.counters[t.CounterID]
		if !ok || !match(t, c) {
			continue
		}
		out = append(out, models.TicketRecord{Ticket: *t, CounterName: c.Name})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
