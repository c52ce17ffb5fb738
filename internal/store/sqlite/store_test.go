package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/queue-ticketing/internal/models"
	"qms/queue-ticketing/internal/store"
)

var _ store.QueueStore = (*Store)(nil)

// NewTestStore returns a store on a fresh in-memory database.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(":memory:")
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		db.Close()
	})

	st := NewStore(db)
	require.NoError(t, st.Migrate(context.Background()), "failed to apply schema")
	return st
}

func createCounter(t *testing.T, st *Store, name string, maxQueue int) models.Counter {
	t.Helper()
	counter, err := st.CreateCounter(context.Background(), store.CreateCounterInput{Name: name, MaxQueue: maxQueue, IsActive: true})
	require.NoError(t, err)
	return counter
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := NewTestStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestClaimTicket(t *testing.T) {
	ctx := context.Background()
	st := NewTestStore(t)
	a := createCounter(t, st, "A", 2)
	b := createCounter(t, st, "B", 5)

	ticket, counter, err := st.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, counter.ID)
	assert.Equal(t, 1, ticket.Number)
	assert.NotZero(t, ticket.ID)

	_, counter, err = st.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)
	assert.Equal(t, b.ID, counter.ID)

	// A and B alternate; A wraps on its third ticket.
	var last models.Ticket
	for i := 0; i < 3; i++ {
		last, counter, err = st.ClaimTicket(ctx, store.ClaimInput{})
		require.NoError(t, err)
	}
	assert.Equal(t, a.ID, counter.ID)
	assert.Equal(t, 1, last.Number)

	got, err := st.GetCounter(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentQueue)
}

func TestClaimTicketWithoutActiveCounter(t *testing.T) {
	ctx := context.Background()
	st := NewTestStore(t)
	a := createCounter(t, st, "A", 2)
	require.NoError(t, st.SetCounterActive(ctx, a.ID, false))

	_, _, err := st.ClaimTicket(ctx, store.ClaimInput{})
	assert.ErrorIs(t, err, store.ErrNoActiveCounter)
}

func TestTicketLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewTestStore(t)
	a := createCounter(t, st, "Teller", 10)
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, _, err := st.ClaimTicket(ctx, store.ClaimInput{ClaimedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	released, err := st.ReleaseTicket(ctx, store.ReleaseInput{CounterID: a.ID, Number: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, released.Status)

	_, err = st.ReleaseTicket(ctx, store.ReleaseInput{CounterID: a.ID, Number: 1})
	assert.ErrorIs(t, err, store.ErrTicketNotFound)

	called, err := st.CallNext(ctx, store.CounterActionInput{CounterID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, called.Number)
	assert.True(t, called.CreatedAt.Equal(base.Add(time.Minute)))

	skipped, err := st.SkipCalled(ctx, store.CounterActionInput{CounterID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, skipped.Number)
	assert.Equal(t, models.StatusSkipped, skipped.Status)

	_, err = st.SkipCalled(ctx, store.CounterActionInput{CounterID: a.ID})
	assert.ErrorIs(t, err, store.ErrNoTicket)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		models.StatusReleased: 1,
		models.StatusSkipped:  1,
		models.StatusClaimed:  1,
	}, counts)
}

func TestResetCounterAndAll(t *testing.T) {
	ctx := context.Background()
	st := NewTestStore(t)
	a := createCounter(t, st, "A", 10)
	b := createCounter(t, st, "B", 10)
	c := createCounter(t, st, "C", 10)
	for i := 0; i < 6; i++ {
		_, _, err := st.ClaimTicket(ctx, store.ClaimInput{})
		require.NoError(t, err)
	}

	affected, err := st.ResetCounter(ctx, store.CounterActionInput{CounterID: a.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	require.NoError(t, st.SetCounterActive(ctx, c.ID, false))
	affected, err = st.ResetAll(ctx, store.ResetAllInput{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected, "only B is active with open tickets")

	got, err := st.GetCounter(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentQueue)
	got, err = st.GetCounter(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentQueue)

	_, err = st.ResetCounter(ctx, store.CounterActionInput{CounterID: 404})
	assert.ErrorIs(t, err, store.ErrCounterNotFound)
}

func TestCounterSnapshots(t *testing.T) {
	ctx := context.Background()
	st := NewTestStore(t)
	b := createCounter(t, st, "Beta", 10)
	createCounter(t, st, "Alpha", 10)
	gone := createCounter(t, st, "Gamma", 10)
	require.NoError(t, st.DeleteCounter(ctx, gone.ID))

	_, claimed, err := st.ClaimTicket(ctx, store.ClaimInput{})
	require.NoError(t, err)
	require.Equal(t, b.ID, claimed.ID)

	snapshots, err := st.CounterSnapshots(ctx, true)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "Alpha", snapshots[0].Name)
	assert.Nil(t, snapshots[0].Status)
	require.NotNil(t, snapshots[1].Status)
	assert.Equal(t, models.StatusClaimed, *snapshots[1].Status)

	_, err = st.GetCounter(ctx, gone.ID)
	assert.ErrorIs(t, err, store.ErrCounterNotFound)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	st := NewTestStore(t)
	createCounter(t, st, "Teller Utama", 10)
	gone := createCounter(t, st, "Teller Lama", 10)
	for i := 0; i < 2; i++ {
		_, _, err := st.ClaimTicket(ctx, store.ClaimInput{})
		require.NoError(t, err)
	}
	require.NoError(t, st.DeleteCounter(ctx, gone.ID))

	byNumber, err := st.SearchByNumber(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byNumber, 2, "numeric search spans deleted counters")

	byName, err := st.SearchByCounterName(ctx, "TELLER")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "Teller Utama", byName[0].CounterName)

	byName, err = st.SearchByCounterName(ctx, "_")
	require.NoError(t, err)
	assert.Empty(t, byName)

	all, err := st.ListTickets(ctx, models.ListedStatuses)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateCounterDuplicateName(t *testing.T) {
	st := NewTestStore(t)
	createCounter(t, st, "A", 3)
	_, err := st.CreateCounter(context.Background(), store.CreateCounterInput{Name: "A", MaxQueue: 3})
	assert.ErrorIs(t, err, store.ErrCounterNameTaken)
}

func TestClaimTicketRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UnixNano()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, current_queue").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "current_queue", "max_queue", "is_active", "created_at", "updated_at", "deleted_at"}).
			AddRow(1, "A", 3, 5, true, now, now, nil))
	mock.ExpectExec("INSERT INTO queues").
		WithArgs(4, models.StatusClaimed, 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, _, err = NewStore(db).ClaimTicket(context.Background(), store.ClaimInput{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallNextRollsBackOnUpdateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, number, counter_id, created_at").
		WithArgs(7, models.StatusClaimed).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "counter_id", "created_at"}).AddRow(11, 2, 7, time.Now().UnixNano()))
	mock.ExpectExec("UPDATE queues SET status").
		WithArgs(models.StatusCalled, sqlmock.AnyArg(), 11).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err = NewStore(db).CallNext(context.Background(), store.CounterActionInput{CounterID: 7})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
