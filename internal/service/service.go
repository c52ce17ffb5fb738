package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"qms/queue-ticketing/internal/events"
	"qms/queue-ticketing/internal/models"
	"qms/queue-ticketing/internal/store"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	MsgClaimed       = "Queue claimed successfully"
	MsgReleased      = "Queue released successfully"
	MsgCurrent       = "Current queues retrieved successfully"
	MsgNextCalled    = "Next queue called successfully"
	MsgSkippedNext   = "Queue skipped successfully and next queue called"
	MsgSkippedNoMore = "Queue skipped successfully, no more queues to call"
	MsgResetAll      = "All active queues reset successfully"
	MsgFound         = "Queue found successfully"
	MsgAllQueues     = "All queues retrieved successfully"
	MsgMetrics       = "Metrics retrieved successfully"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	tracerName      = "qms/queue-ticketing/service"
)

// Assignment identifies a ticket number at a counter.
type Assignment struct {
	QueueNumber int    `json:"queueNumber"`
	CounterName string `json:"counterName"`
	CounterID   int64  `json:"counterId"`
}

type SkipResult struct {
	Message string
	Next    *Assignment
}

type ResetResult struct {
	Message  string
	Affected int64
}

type CounterRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type QueueEntry struct {
	ID          int64      `json:"id"`
	QueueNumber int        `json:"queueNumber"`
	Status      string     `json:"status"`
	Counter     CounterRef `json:"counter"`
	CreatedAt   string     `json:"createdAt"`
	UpdatedAt   string     `json:"updatedAt"`
}

type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
}

type QueueService struct {
	store     store.QueueStore
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
}

func New(st store.QueueStore, publisher events.Publisher, options Options) *QueueService {
	clk := options.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueService{
		store:     st,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

func (s *QueueService) ClaimQueue(ctx context.Context) (result Assignment, err error) {
	ctx, span := s.startSpan(ctx, "ClaimQueue")
	defer func() { endSpan(span, err) }()

	ticket, counter, err := s.store.ClaimTicket(ctx, store.ClaimInput{ClaimedAt: s.now()})
	if err != nil {
		if errors.Is(err, store.ErrNoActiveCounter) {
			return Assignment{}, notFound(msgNoActiveCounters)
		}
		return Assignment{}, errors.Annotate(err, "claim queue")
	}

	s.publish(ctx, events.Message{
		Event:       events.QueueClaimed,
		CounterID:   counter.ID,
		CounterName: counter.Name,
		QueueNumber: ticket.Number,
	})
	return Assignment{QueueNumber: ticket.Number, CounterName: counter.Name, CounterID: counter.ID}, nil
}

func (s *QueueService) ReleaseQueue(ctx context.Context, queueNumber int, counterID int64) (err error) {
	ctx, span := s.startSpan(ctx, "ReleaseQueue", attribute.Int64("counter.id", counterID))
	defer func() { endSpan(span, err) }()

	if queueNumber <= 0 {
		return badRequest(msgInvalidNumber, fieldQueueNumber)
	}
	if counterID <= 0 {
		return badRequest(msgInvalidCounterID, fieldCounterID)
	}
	if _, err = s.activeCounter(ctx, counterID); err != nil {
		return err
	}
	if queueNumber > math.MaxInt32 {
		return notFound(msgQueueNotFound)
	}

	_, err = s.store.ReleaseTicket(ctx, store.ReleaseInput{CounterID: counterID, Number: queueNumber, ReleasedAt: s.now()})
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return notFound(msgQueueNotFound)
		}
		return errors.Annotatef(err, "release queue %d at counter %d", queueNumber, counterID)
	}

	s.publish(ctx, events.Message{Event: events.QueueReleased, CounterID: counterID, QueueNumber: queueNumber})
	return nil
}

func (s *QueueService) GetCurrentQueues(ctx context.Context, includeInactive bool) (snapshots []models.CounterSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "GetCurrentQueues", attribute.Bool("include_inactive", includeInactive))
	defer func() { endSpan(span, err) }()

	snapshots, err = s.store.CounterSnapshots(ctx, includeInactive)
	if err != nil {
		return nil, errors.Annotate(err, "load counter snapshots")
	}
	return snapshots, nil
}

func (s *QueueService) NextQueue(ctx context.Context, counterID int64) (result Assignment, err error) {
	ctx, span := s.startSpan(ctx, "NextQueue", attribute.Int64("counter.id", counterID))
	defer func() { endSpan(span, err) }()

	if counterID <= 0 {
		return Assignment{}, badRequest(msgInvalidCounterID, fieldCounterID)
	}
	counter, err := s.activeCounter(ctx, counterID)
	if err != nil {
		return Assignment{}, err
	}

	ticket, err := s.store.CallNext(ctx, store.CounterActionInput{CounterID: counterID, OccurredAt: s.now()})
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			return Assignment{}, notFound(msgNoClaimed)
		}
		return Assignment{}, errors.Annotatef(err, "call next at counter %d", counterID)
	}

	s.publish(ctx, events.Message{
		Event:       events.QueueCalled,
		CounterID:   counterID,
		CounterName: counter.Name,
		QueueNumber: ticket.Number,
	})
	return Assignment{QueueNumber: ticket.Number, CounterName: counter.Name, CounterID: counterID}, nil
}

// SkipQueue marks the called ticket SKIPPED and then tries to call the
// next one. A failed follow-up call does not fail the skip.
func (s *QueueService) SkipQueue(ctx context.Context, counterID int64) (result SkipResult, err error) {
	ctx, span := s.startSpan(ctx, "SkipQueue", attribute.Int64("counter.id", counterID))
	defer func() { endSpan(span, err) }()

	if counterID <= 0 {
		return SkipResult{}, badRequest(msgInvalidCounterID, fieldCounterID)
	}
	if _, err = s.activeCounter(ctx, counterID); err != nil {
		return SkipResult{}, err
	}

	ticket, err := s.store.SkipCalled(ctx, store.CounterActionInput{CounterID: counterID, OccurredAt: s.now()})
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			return SkipResult{}, notFound(msgNoCalled)
		}
		return SkipResult{}, errors.Annotatef(err, "skip at counter %d", counterID)
	}
	s.publish(ctx, events.Message{Event: events.QueueSkipped, CounterID: counterID, QueueNumber: ticket.Number})

	next, nextErr := s.NextQueue(ctx, counterID)
	if nextErr != nil {
		s.logger.Warn("no more queues to call after skip",
			zap.Int64("counter_id", counterID),
			zap.Error(nextErr),
		)
		return SkipResult{Message: MsgSkippedNoMore}, nil
	}
	return SkipResult{Message: MsgSkippedNext, Next: &next}, nil
}

// ResetQueues resets one counter when counterID is set, otherwise every
// active counter.
func (s *QueueService) ResetQueues(ctx context.Context, counterID *int64) (result ResetResult, err error) {
	ctx, span := s.startSpan(ctx, "ResetQueues", attribute.Bool("reset.all", counterID == nil))
	defer func() { endSpan(span, err) }()

	var affected int64
	if counterID == nil {
		affected, err = s.store.ResetAll(ctx, store.ResetAllInput{OccurredAt: s.now()})
		if err != nil {
			return ResetResult{}, errors.Annotate(err, "reset all queues")
		}
		s.publish(ctx, events.Message{Event: events.AllQueuesReset})
		return ResetResult{Message: MsgResetAll, Affected: affected}, nil
	}

	id := *counterID
	if id <= 0 {
		return ResetResult{}, badRequest(msgInvalidCounterID, fieldCounterID)
	}
	counter, err := s.activeCounter(ctx, id)
	if err != nil {
		return ResetResult{}, err
	}

	affected, err = s.store.ResetCounter(ctx, store.CounterActionInput{CounterID: id, OccurredAt: s.now()})
	if err != nil {
		if errors.Is(err, store.ErrCounterNotFound) {
			return ResetResult{}, notFound(msgCounterNotFound)
		}
		return ResetResult{}, errors.Annotatef(err, "reset counter %d", id)
	}
	s.publish(ctx, events.Message{Event: events.QueueReset, CounterID: id})
	return ResetResult{
		Message:  fmt.Sprintf("Queue for counter %s reset successfully", counter.Name),
		Affected: affected,
	}, nil
}

// SearchQueue matches an integer query against ticket numbers and any
// other query against counter names. No match is a NotFound error.
func (s *QueueService) SearchQueue(ctx context.Context, query string) (entries []QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "SearchQueue")
	defer func() { endSpan(span, err) }()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, badRequest(msgQueryRequired, "q")
	}

	var records []models.TicketRecord
	if number, convErr := strconv.Atoi(trimmed); convErr == nil {
		// Ticket numbers are stored as 32-bit integers.
		if number >= math.MinInt32 && number <= math.MaxInt32 {
			records, err = s.store.SearchByNumber(ctx, number)
		}
	} else {
		records, err = s.store.SearchByCounterName(ctx, trimmed)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "search queue %q", query)
	}
	if len(records) == 0 {
		return nil, notFound(fmt.Sprintf("Queue dengan nomor atau counter '%s' tidak ditemukan", query))
	}
	return formatEntries(records), nil
}

func (s *QueueService) GetAllQueues(ctx context.Context) (entries []QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "GetAllQueues")
	defer func() { endSpan(span, err) }()

	records, err := s.store.ListTickets(ctx, models.ListedStatuses)
	if err != nil {
		return nil, errors.Annotate(err, "list queues")
	}
	return formatEntries(records), nil
}

func (s *QueueService) GetMetrics(ctx context.Context) (metrics models.Metrics, err error) {
	ctx, span := s.startSpan(ctx, "GetMetrics")
	defer func() { endSpan(span, err) }()

	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return models.Metrics{}, errors.Annotate(err, "count queues")
	}
	return models.Metrics{
		Waiting:  counts[models.StatusClaimed],
		Called:   counts[models.StatusCalled],
		Released: counts[models.StatusReleased],
		Skipped:  counts[models.StatusSkipped],
	}, nil
}

func (s *QueueService) activeCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	counter, err := s.store.GetCounter(ctx, counterID)
	if err != nil {
		if errors.Is(err, store.ErrCounterNotFound) {
			return models.Counter{}, notFound(msgCounterNotFound)
		}
		return models.Counter{}, errors.Annotatef(err, "load counter %d", counterID)
	}
	if !counter.IsActive {
		return models.Counter{}, badRequest(msgCounterInactive, fieldCounterID)
	}
	return counter, nil
}

// publish never fails the caller. Errors and panics from the publisher are
// logged and dropped.
func (s *QueueService) publish(ctx context.Context, msg events.Message) {
	if s.publisher == nil {
		return
	}
	msg.OccurredAt = s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("publish panicked", zap.String("event", msg.Event), zap.Any("panic", r))
		}
	}()
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Warn("publish failed", zap.String("event", msg.Event), zap.Error(err))
	}
}

func (s *QueueService) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *QueueService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "QueueService."+name, trace.WithAttributes(attrs...))
}

// endSpan marks only unexpected failures as span errors.
func endSpan(span trace.Span, err error) {
	if err != nil && !IsBadRequest(err) && !IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func formatEntries(records []models.TicketRecord) []QueueEntry {
	entries := make([]QueueEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, QueueEntry{
			ID:          r.ID,
			QueueNumber: r.Number,
			Status:      r.Status,
			Counter:     CounterRef{ID: r.CounterID, Name: r.CounterName},
			CreatedAt:   r.CreatedAt.UTC().Format(timestampLayout),
			UpdatedAt:   r.UpdatedAt.UTC().Format(timestampLayout),
		})
	}
	return entries
}
