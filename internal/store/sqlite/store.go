package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"qms/queue-ticketing/internal/models"
	"qms/queue-ticketing/internal/store"

	"github.com/juju/errors"
)

const counterColumns = `id, name, current_queue, max_queue, is_active, created_at, updated_at, deleted_at`

const recordQuery = `
	SELECT q.id, q.number, q.status, q.counter_id, q.created_at, q.updated_at, c.name
	FROM queues q
	JOIN counters c ON c.id = q.counter_id
`

// Store implements store.QueueStore on SQLite. Every mutation runs in one
// transaction on the single pooled connection.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) CreateCounter(ctx context.Context, input store.CreateCounterInput) (models.Counter, error) {
	if input.MaxQueue <= 0 || strings.TrimSpace(input.Name) == "" {
		return models.Counter{}, store.ErrInvalidCounter
	}
	createdAt := store.NowOr(input.CreatedAt)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, current_queue, max_queue, is_active, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?, ?)
	`, input.Name, input.MaxQueue, input.IsActive, createdAt.UnixNano(), createdAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return models.Counter{}, store.ErrCounterNameTaken
		}
		return models.Counter{}, errors.Annotatef(err, "insert counter %q", input.Name)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Counter{}, err
	}
	return models.Counter{
		ID:        id,
		Name:      input.Name,
		MaxQueue:  input.MaxQueue,
		IsActive:  input.IsActive,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

func (s *Store) FindCounterByName(ctx context.Context, name string) (models.Counter, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+counterColumns+` FROM counters WHERE name = ? AND deleted_at IS NULL`, name)
	counter, err := scanCounter(row)
	if err == sql.ErrNoRows {
		return models.Counter{}, false, nil
	}
	if err != nil {
		return models.Counter{}, false, err
	}
	return counter, true, nil
}

func (s *Store) GetCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+counterColumns+` FROM counters WHERE id = ? AND deleted_at IS NULL`, counterID)
	counter, err := scanCounter(row)
	if err == sql.ErrNoRows {
		return models.Counter{}, store.ErrCounterNotFound
	}
	return counter, err
}

// SetCounterActive toggles whether a counter may issue tickets.
func (s *Store) SetCounterActive(ctx context.Context, counterID int64, active bool) error {
	return s.touchCounter(ctx, `UPDATE counters SET is_active = ?, updated_at = ? WHERE id = ?`, active, time.Now().UTC().UnixNano(), counterID)
}

// DeleteCounter soft-deletes a counter. Its tickets are kept.
func (s *Store) DeleteCounter(ctx context.Context, counterID int64) error {
	now := time.Now().UTC().UnixNano()
	return s.touchCounter(ctx, `UPDATE counters SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, counterID)
}

func (s *Store) touchCounter(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func (s *Store) CounterSnapshots(ctx context.Context, includeInactive bool) ([]models.CounterSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.current_queue, c.max_queue, c.is_active,
			(SELECT q.status FROM queues q WHERE q.counter_id = c.id ORDER BY q.created_at DESC, q.id DESC LIMIT 1)
		FROM counters c
		WHERE c.deleted_at IS NULL AND (? OR c.is_active)
		ORDER BY c.name ASC, c.id ASC
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []models.CounterSnapshot{}
	for rows.Next() {
		var snapshot models.CounterSnapshot
		var status sql.NullString
		if err := rows.Scan(&snapshot.ID, &snapshot.Name, &snapshot.CurrentQueue, &snapshot.MaxQueue, &snapshot.IsActive, &status); err != nil {
			return nil, err
		}
		if status.Valid {
			value := status.String
			snapshot.Status = &value
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (s *Store) ClaimTicket(ctx context.Context, input store.ClaimInput) (models.Ticket, models.Counter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Ticket{}, models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	counter, err := scanCounter(tx.QueryRowContext(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		WHERE is_active = 1 AND deleted_at IS NULL
		ORDER BY current_queue ASC, id ASC
		LIMIT 1
	`))
	if err != nil {
		if err == sql.ErrNoRows {
			err = store.ErrNoActiveCounter
		}
		return models.Ticket{}, models.Counter{}, err
	}

	claimedAt := store.NowOr(input.ClaimedAt)
	ticket := models.Ticket{
		Number:    counter.NextNumber(),
		Status:    models.StatusClaimed,
		CounterID: counter.ID,
		CreatedAt: claimedAt,
		UpdatedAt: claimedAt,
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO queues (number, status, counter_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, ticket.Number, ticket.Status, ticket.CounterID, claimedAt.UnixNano(), claimedAt.UnixNano())
	if err != nil {
		err = errors.Annotatef(err, "insert ticket for counter %d", counter.ID)
		return models.Ticket{}, models.Counter{}, err
	}
	if ticket.ID, err = result.LastInsertId(); err != nil {
		return models.Ticket{}, models.Counter{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE counters SET current_queue = ?, updated_at = ? WHERE id = ?
	`, ticket.Number, claimedAt.UnixNano(), counter.ID); err != nil {
		err = errors.Annotatef(err, "advance counter %d", counter.ID)
		return models.Ticket{}, models.Counter{}, err
	}
	counter.CurrentQueue = ticket.Number
	counter.UpdatedAt = claimedAt

	if err = tx.Commit(); err != nil {
		return models.Ticket{}, models.Counter{}, err
	}
	return ticket, counter, nil
}

func (s *Store) ReleaseTicket(ctx context.Context, input store.ReleaseInput) (models.Ticket, error) {
	ticket, err := s.transitionOldest(ctx, store.ActionRelease, store.NowOr(input.ReleasedAt),
		`counter_id = ? AND number = ?`, input.CounterID, input.Number)
	if err == store.ErrNoTicket {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, err
}

func (s *Store) CallNext(ctx context.Context, input store.CounterActionInput) (models.Ticket, error) {
	return s.transitionOldest(ctx, store.ActionCall, store.NowOr(input.OccurredAt), `counter_id = ?`, input.CounterID)
}

func (s *Store) SkipCalled(ctx context.Context, input store.CounterActionInput) (models.Ticket, error) {
	return s.transitionOldest(ctx, store.ActionSkip, store.NowOr(input.OccurredAt), `counter_id = ?`, input.CounterID)
}

func (s *Store) transitionOldest(ctx context.Context, action string, at time.Time, filter string, args ...interface{}) (models.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	statusFilter, statusArgs := inStatuses(store.SourceStatuses(action))
	args = append(args, statusArgs...)

	var ticket models.Ticket
	var createdAt int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, number, counter_id, created_at
		FROM queues
		WHERE `+filter+` AND status `+statusFilter+`
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, args...).Scan(&ticket.ID, &ticket.Number, &ticket.CounterID, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			err = store.ErrNoTicket
		}
		return models.Ticket{}, err
	}

	ticket.Status = store.TargetStatus(action)
	ticket.CreatedAt = fromNanos(createdAt)
	ticket.UpdatedAt = at
	if _, err = tx.ExecContext(ctx, `UPDATE queues SET status = ?, updated_at = ? WHERE id = ?`, ticket.Status, at.UnixNano(), ticket.ID); err != nil {
		err = errors.Annotatef(err, "%s ticket %d", action, ticket.ID)
		return models.Ticket{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ResetCounter(ctx context.Context, input store.CounterActionInput) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id int64
	if err = tx.QueryRowContext(ctx, `SELECT id FROM counters WHERE id = ? AND deleted_at IS NULL`, input.CounterID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			err = store.ErrCounterNotFound
		}
		return 0, err
	}

	at := store.NowOr(input.OccurredAt).UnixNano()
	statusFilter, statusArgs := inStatuses(store.SourceStatuses(store.ActionReset))
	args := append([]interface{}{store.TargetStatus(store.ActionReset), at, id}, statusArgs...)
	result, err := tx.ExecContext(ctx, `UPDATE queues SET status = ?, updated_at = ? WHERE counter_id = ? AND status `+statusFilter, args...)
	if err != nil {
		err = errors.Annotatef(err, "reset tickets of counter %d", id)
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE counters SET current_queue = 0, updated_at = ? WHERE id = ?`, at, id); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) ResetAll(ctx context.Context, input store.ResetAllInput) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	at := store.NowOr(input.OccurredAt).UnixNano()
	statusFilter, statusArgs := inStatuses(store.SourceStatuses(store.ActionReset))
	args := append([]interface{}{store.TargetStatus(store.ActionReset), at}, statusArgs...)
	result, err := tx.ExecContext(ctx, `
		UPDATE queues SET status = ?, updated_at = ?
		WHERE status `+statusFilter+`
			AND counter_id IN (SELECT id FROM counters WHERE is_active = 1 AND deleted_at IS NULL)
	`, args...)
	if err != nil {
		err = errors.Annotate(err, "reset active tickets")
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE counters SET current_queue = 0, updated_at = ? WHERE is_active = 1 AND deleted_at IS NULL`, at); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) SearchByNumber(ctx context.Context, number int) ([]models.TicketRecord, error) {
	return s.queryRecords(ctx, recordQuery+`WHERE q.number = ? ORDER BY q.created_at DESC, q.id DESC`, number)
}

func (s *Store) SearchByCounterName(ctx context.Context, query string) ([]models.TicketRecord, error) {
	return s.queryRecords(ctx, recordQuery+`
		WHERE c.deleted_at IS NULL AND instr(lower(c.name), lower(?)) > 0
		ORDER BY q.created_at DESC, q.id DESC
	`, query)
}

func (s *Store) ListTickets(ctx context.Context, statuses []string) ([]models.TicketRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	statusFilter, args := inStatuses(statuses)
	return s.queryRecords(ctx, recordQuery+`WHERE q.status `+statusFilter+` ORDER BY q.created_at DESC, q.id DESC`, args...)
}

func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queues GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...interface{}) ([]models.TicketRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.TicketRecord
	for rows.Next() {
		var r models.TicketRecord
		var createdAt, updatedAt int64
		if err := rows.Scan(&r.ID, &r.Number, &r.Status, &r.CounterID, &createdAt, &updatedAt, &r.CounterName); err != nil {
			return nil, err
		}
		r.CreatedAt = fromNanos(createdAt)
		r.UpdatedAt = fromNanos(updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanCounter(row rowScanner) (models.Counter, error) {
	var counter models.Counter
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64
	if err := row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &createdAt, &updatedAt, &deletedAt); err != nil {
		return models.Counter{}, err
	}
	counter.CreatedAt = fromNanos(createdAt)
	counter.UpdatedAt = fromNanos(updatedAt)
	if deletedAt.Valid {
		t := fromNanos(deletedAt.Int64)
		counter.DeletedAt = &t
	}
	return counter, nil
}

func inStatuses(statuses []string) (string, []interface{}) {
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = status
	}
	return "IN (" + strings.Join(placeholders, ", ") + ")", args
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
