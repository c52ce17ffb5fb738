package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/queue-ticketing/internal/models"
	"qms/queue-ticketing/internal/store"
)

var _ store.QueueStore = (*Store)(nil)

func seedCounter(t *testing.T, s *Store, name string, maxQueue int) models.Counter {
	t.Helper()
	c, err := s.CreateCounter(context.Background(), store.CreateCounterInput{Name: name, MaxQueue: maxQueue, IsActive: true})
	require.NoError(t, err)
	return c
}

func TestClaimPicksLowestCurrentQueue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := seedCounter(t, s, "A", 5)
	b := seedCounter(t, s, "B", 5)

	ticket, counter, err := s.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, counter.ID)
	assert.Equal(t, 1, ticket.Number)
	assert.Equal(t, models.StatusClaimed, ticket.Status)

	_, counter, err = s.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)
	assert.Equal(t, b.ID, counter.ID, "tie goes to next lowest currentQueue")

	_, counter, err = s.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, counter.ID, "equal currentQueue breaks on lowest id")
	assert.Equal(t, 2, counter.CurrentQueue)
}

func TestClaimWrapsAtMaxQueue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedCounter(t, s, "A", 2)

	var numbers []int
	for i := 0; i < 3; i++ {
		ticket, _, err := s.ClaimTicket(ctx, store.ClaimInput{})
		require.NoError(t, err)
		numbers = append(numbers, ticket.Number)
	}
	assert.Equal(t, []int{1, 2, 1}, numbers)
}

func TestClaimSkipsInactiveAndDeletedCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := seedCounter(t, s, "A", 5)
	b := seedCounter(t, s, "B", 5)
	deletedAt := time.Now()
	require.NoError(t, s.SetCounterState(a.ID, func(c *models.Counter) { c.IsActive = false }))
	require.NoError(t, s.SetCounterState(b.ID, func(c *models.Counter) { c.DeletedAt = &deletedAt }))

	_, _, err := s.ClaimTicket(ctx, store.ClaimInput{})
	assert.ErrorIs(t, err, store.ErrNoActiveCounter)
}

func TestConcurrentClaimsIssueDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedCounter(t, s, "A", 100)

	var wg sync.WaitGroup
	results := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, _, err := s.ClaimTicket(ctx, store.ClaimInput{})
			if err == nil {
				results <- ticket.Number
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for n := range results {
		assert.False(t, seen[n], "duplicate number %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, 50)
}

func TestCallNextIsFIFO(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := seedCounter(t, s, "A", 10)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, _, err := s.ClaimTicket(ctx, store.ClaimInput{ClaimedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	for want := 1; want <= 3; want++ {
		ticket, err := s.CallNext(ctx, store.CounterActionInput{CounterID: a.ID})
		require.NoError(t, err)
		assert.Equal(t, want, ticket.Number)
		assert.Equal(t, models.StatusCalled, ticket.Status)
	}

	_, err := s.CallNext(ctx, store.CounterActionInput{CounterID: a.ID})
	assert.ErrorIs(t, err, store.ErrNoTicket)
}

func TestReleaseOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := seedCounter(t, s, "A", 10)
	_, _, err := s.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)

	ticket, err := s.ReleaseTicket(ctx, store.ReleaseInput{CounterID: a.ID, Number: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, ticket.Status)

	_, err = s.ReleaseTicket(ctx, store.ReleaseInput{CounterID: a.ID, Number: 1})
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestSkipCalledRequiresCalledTicket(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := seedCounter(t, s, "A", 10)
	_, _, err := s.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)

	_, err = s.SkipCalled(ctx, store.CounterActionInput{CounterID: a.ID})
	assert.ErrorIs(t, err, store.ErrNoTicket)

	_, err = s.CallNext(ctx, store.CounterActionInput{CounterID: a.ID})
	require.NoError(t, err)
	ticket, err := s.SkipCalled(ctx, store.CounterActionInput{CounterID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, ticket.Status)
}

func TestResetAllTouchesActiveCountersOnly(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := seedCounter(t, s, "A", 10)
	b := seedCounter(t, s, "B", 10)
	for i := 0; i < 4; i++ {
		_, _, err := s.ClaimTicket(ctx, store.ClaimInput{})
		require.NoError(t, err)
	}
	_, err := s.CallNext(ctx, store.CounterActionInput{CounterID: a.ID})
	require.NoError(t, err)
	_, err = s.ReleaseTicket(ctx, store.ReleaseInput{CounterID: a.ID, Number: 2})
	require.NoError(t, err)
	require.NoError(t, s.SetCounterState(b.ID, func(c *models.Counter) { c.IsActive = false }))

	affected, err := s.ResetAll(ctx, store.ResetAllInput{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected, "only the CALLED ticket of A is resettable")

	got, err := s.GetCounter(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentQueue)
	got, err = s.GetCounter(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentQueue)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		models.StatusReset:    1,
		models.StatusReleased: 1,
		models.StatusClaimed:  2,
	}, counts)
}

func TestResetCounterMissing(t *testing.T) {
	_, err := NewStore().ResetCounter(context.Background(), store.CounterActionInput{CounterID: 9})
	assert.ErrorIs(t, err, store.ErrCounterNotFound)
}

func TestCounterSnapshotsUseOwnLatestTicket(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	b := seedCounter(t, s, "B", 10)
	seedCounter(t, s, "A", 10)
	c := seedCounter(t, s, "C", 10)
	require.NoError(t, s.SetCounterState(c.ID, func(c *models.Counter) { c.IsActive = false }))

	_, claimed, err := s.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)
	require.Equal(t, b.ID, claimed.ID)
	_, err = s.CallNext(ctx, store.CounterActionInput{CounterID: b.ID})
	require.NoError(t, err)

	snapshots, err := s.CounterSnapshots(ctx, false)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "A", snapshots[0].Name)
	assert.Nil(t, snapshots[0].Status)
	assert.Equal(t, "B", snapshots[1].Name)
	require.NotNil(t, snapshots[1].Status)
	assert.Equal(t, models.StatusCalled, *snapshots[1].Status)

	snapshots, err = s.CounterSnapshots(ctx, true)
	require.NoError(t, err)
	assert.Len(t, snapshots, 3)
}

func TestSearchAndList(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedCounter(t, s, "Teller Utama", 10)
	seedCounter(t, s, "Customer Service", 10)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, _, err := s.ClaimTicket(ctx, store.ClaimInput{ClaimedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	byNumber, err := s.SearchByNumber(ctx, 2)
	require.NoError(t, err)
	require.Len(t, byNumber, 2)
	assert.True(t, byNumber[0].CreatedAt.After(byNumber[1].CreatedAt), "newest first")

	byName, err := s.SearchByCounterName(ctx, "teller")
	require.NoError(t, err)
	require.Len(t, byName, 2)
	for _, r := range byName {
		assert.Equal(t, "Teller Utama", r.CounterName)
	}

	none, err := s.SearchByCounterName(ctx, "loket")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.ListTickets(ctx, models.ListedStatuses)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCreateCounterRejectsDuplicateNames(t *testing.T) {
	s := NewStore()
	seedCounter(t, s, "A", 3)
	_, err := s.CreateCounter(context.Background(), store.CreateCounterInput{Name: "A", MaxQueue: 3})
	assert.ErrorIs(t, err, store.ErrCounterNameTaken)

	_, err = s.CreateCounter(context.Background(), store.CreateCounterInput{Name: "Z", MaxQueue: 0})
	assert.ErrorIs(t, err, store.ErrInvalidCounter)
}
