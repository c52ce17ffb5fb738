package postgres

import (
	"context"
	_ "embed"
	"strconv"
	"strings"
	"time"

	"qms/queue-ticketing/internal/models"
	"qms/queue-ticketing/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const ticketColumns = `q.id, q.number, q.status, q.counter_id, q.created_at, q.updated_at, c.name`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the counters and queues tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return errors.Annotate(err, "apply schema")
	}
	return nil
}

func (s *Store) CreateCounter(ctx context.Context, input store.CreateCounterInput) (models.Counter, error) {
	if input.MaxQueue <= 0 || strings.TrimSpace(input.Name) == "" {
		return models.Counter{}, store.ErrInvalidCounter
	}
	createdAt := store.NowOr(input.CreatedAt)

	var counter models.Counter
	row := s.pool.QueryRow(ctx, `
		INSERT INTO counters (name, current_queue, max_queue, is_active, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $4, $4)
		RETURNING id, name, current_queue, max_queue, is_active, created_at, updated_at, deleted_at
	`, input.Name, input.MaxQueue, input.IsActive, createdAt)
	if err := scanCounter(row, &counter); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Counter{}, store.ErrCounterNameTaken
		}
		return models.Counter{}, errors.Annotatef(err, "insert counter %q", input.Name)
	}
	return counter, nil
}

func (s *Store) FindCounterByName(ctx context.Context, name string) (models.Counter, bool, error) {
	var counter models.Counter
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, current_queue, max_queue, is_active, created_at, updated_at, deleted_at
		FROM counters
		WHERE name = $1 AND deleted_at IS NULL
	`, name)
	if err := scanCounter(row, &counter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, false, nil
		}
		return models.Counter{}, false, err
	}
	return counter, true, nil
}

func (s *Store) GetCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	var counter models.Counter
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, current_queue, max_queue, is_active, created_at, updated_at, deleted_at
		FROM counters
		WHERE id = $1 AND deleted_at IS NULL
	`, counterID)
	if err := scanCounter(row, &counter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) CounterSnapshots(ctx context.Context, includeInactive bool) ([]models.CounterSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.current_queue, c.max_queue, c.is_active, latest.status
		FROM counters c
		LEFT JOIN LATERAL (
			SELECT q.status
			FROM queues q
			WHERE q.counter_id = c.id
			ORDER BY q.created_at DESC, q.id DESC
			LIMIT 1
		) latest ON TRUE
		WHERE c.deleted_at IS NULL AND ($1 OR c.is_active)
		ORDER BY c.name ASC, c.id ASC
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []models.CounterSnapshot{}
	for rows.Next() {
		var snapshot models.CounterSnapshot
		if err := rows.Scan(&snapshot.ID, &snapshot.Name, &snapshot.CurrentQueue, &snapshot.MaxQueue, &snapshot.IsActive, &snapshot.Status); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *Store) ClaimTicket(ctx context.Context, input store.ClaimInput) (models.Ticket, models.Counter, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var counter models.Counter
	row := tx.QueryRow(ctx, `
		SELECT id, name, current_queue, max_queue, is_active, created_at, updated_at, deleted_at
		FROM counters
		WHERE is_active AND deleted_at IS NULL
		ORDER BY current_queue ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`)
	if err = scanCounter(row, &counter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	row = tx.QueryRow(ctx, `
		INSERT INTO queues (number, status, counter_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, ticket.Number, ticket.Status, ticket.CounterID, claimedAt)
	if err = row.Scan(&ticket.ID); err != nil {
		return models.Ticket{}, models.Counter{}, errors.Annotatef(err, "insert ticket for counter %d", counter.ID)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE counters SET current_queue = $1, updated_at = $2 WHERE id = $3
	`, ticket.Number, claimedAt, counter.ID); err != nil {
		return models.Ticket{}, models.Counter{}, errors.Annotatef(err, "advance counter %d", counter.ID)
	}
	counter.CurrentQueue = ticket.Number
	counter.UpdatedAt = claimedAt

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, models.Counter{}, err
	}
	return ticket, counter, nil
}

func (s *Store) ReleaseTicket(ctx context.Context, input store.ReleaseInput) (models.Ticket, error) {
	ticket, err := s.transitionOldest(ctx, store.ActionRelease, store.NowOr(input.ReleasedAt),
		`counter_id = $1 AND number = $2`, input.CounterID, input.Number)
	if errors.Is(err, store.ErrNoTicket) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, err
}

func (s *Store) CallNext(ctx context.Context, input store.CounterActionInput) (models.Ticket, error) {
	return s.transitionOldest(ctx, store.ActionCall, store.NowOr(input.OccurredAt), `counter_id = $1`, input.CounterID)
}

func (s *Store) SkipCalled(ctx context.Context, input store.CounterActionInput) (models.Ticket, error) {
	return s.transitionOldest(ctx, store.ActionSkip, store.NowOr(input.OccurredAt), `counter_id = $1`, input.CounterID)
}

// transitionOldest moves the oldest ticket matching filter out of the
// action's source statuses. Concurrent callers never pick the same row.
func (s *Store) transitionOldest(ctx context.Context, action string, at time.Time, filter string, args ...interface{}) (models.Ticket, error) {
	n := len(args)
	query := `
		WITH target AS (
			SELECT id
			FROM queues
			WHERE ` + filter + ` AND status = ANY($` + strconv.Itoa(n+1) + `)
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queues
		SET status = $` + strconv.Itoa(n+2) + `, updated_at = $` + strconv.Itoa(n+3) + `
		FROM target
		WHERE queues.id = target.id
		RETURNING queues.id, queues.number, queues.status, queues.counter_id, queues.created_at, queues.updated_at
	`
	args = append(args, store.SourceStatuses(action), store.TargetStatus(action), at)

	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&ticket.ID, &ticket.Number, &ticket.Status, &ticket.CounterID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrNoTicket
		}
		return models.Ticket{}, errors.Annotatef(err, "%s ticket", action)
	}
	return ticket, nil
}

func (s *Store) ResetCounter(ctx context.Context, input store.CounterActionInput) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM counters WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
	`, input.CounterID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrCounterNotFound
		}
		return 0, err
	}

	at := store.NowOr(input.OccurredAt)
	tag, err := tx.Exec(ctx, `
		UPDATE queues SET status = $1, updated_at = $2
		WHERE counter_id = $3 AND status = ANY($4)
	`, store.TargetStatus(store.ActionReset), at, input.CounterID, store.SourceStatuses(store.ActionReset))
	if err != nil {
		return 0, errors.Annotatef(err, "reset tickets of counter %d", input.CounterID)
	}
	if _, err = tx.Exec(ctx, `
		UPDATE counters SET current_queue = 0, updated_at = $1 WHERE id = $2
	`, at, input.CounterID); err != nil {
		return 0, errors.Annotatef(err, "zero counter %d", input.CounterID)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ResetAll(ctx context.Context, input store.ResetAllInput) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		SELECT id FROM counters WHERE is_active AND deleted_at IS NULL ORDER BY id FOR UPDATE
	`); err != nil {
		return 0, err
	}

	at := store.NowOr(input.OccurredAt)
	tag, err := tx.Exec(ctx, `
		UPDATE queues q SET status = $1, updated_at = $2
		FROM counters c
		WHERE q.counter_id = c.id AND c.is_active AND c.deleted_at IS NULL AND q.status = ANY($3)
	`, store.TargetStatus(store.ActionReset), at, store.SourceStatuses(store.ActionReset))
	if err != nil {
		return 0, errors.Annotate(err, "reset active tickets")
	}
	if _, err = tx.Exec(ctx, `
		UPDATE counters SET current_queue = 0, updated_at = $1 WHERE is_active AND deleted_at IS NULL
	`, at); err != nil {
		return 0, errors.Annotate(err, "zero active counters")
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) SearchByNumber(ctx context.Context, number int) ([]models.TicketRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+ticketColumns+`
		FROM queues q
		JOIN counters c ON c.id = q.counter_id
		WHERE q.number = $1
		ORDER BY q.created_at DESC, q.id DESC
	`, number)
}

func (s *Store) SearchByCounterName(ctx context.Context, query string) ([]models.TicketRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+ticketColumns+`
		FROM queues q
		JOIN counters c ON c.id = q.counter_id
		WHERE c.deleted_at IS NULL AND strpos(lower(c.name), lower($1)) > 0
		ORDER BY q.created_at DESC, q.id DESC
	`, query)
}

func (s *Store) ListTickets(ctx context.Context, statuses []string) ([]models.TicketRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+ticketColumns+`
		FROM queues q
		JOIN counters c ON c.id = q.counter_id
		WHERE q.status = ANY($1)
		ORDER BY q.created_at DESC, q.id DESC
	`, statuses)
}

func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM queues GROUP BY status`)
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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.TicketRecord
	for rows.Next() {
		var r models.TicketRecord
		if err := rows.Scan(&r.ID, &r.Number, &r.Status, &r.CounterID, &r.CreatedAt, &r.UpdatedAt, &r.CounterName); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanCounter(row pgx.Row, counter *models.Counter) error {
	return row.Scan(&counter.ID, &counter.Name, &counter.CurrentQueue, &counter.MaxQueue, &counter.IsActive, &counter.CreatedAt, &counter.UpdatedAt, &counter.DeletedAt)
}
