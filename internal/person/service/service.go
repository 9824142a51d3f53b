// Package service implements the person registry operations on top of a Store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dogfight/internal/person/events"
	personmetrics "dogfight/internal/person/metrics"
	"dogfight/internal/person/models"
	"dogfight/internal/person/search"
	id "dogfight/pkg/domain"
	dErrors "dogfight/pkg/domain-errors"
	"dogfight/pkg/platform/sentinel"
	"dogfight/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,EventEmitter

const DefaultSearchLimit = 50

type Store interface {
	CreateIfNicknameAvailable(ctx context.Context, p *models.Person) error
	FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error)
	Search(ctx context.Context, term string, limit int) ([]*models.Person, error)
	Count(ctx context.Context) (int64, error)
}

// EventEmitter enqueues events without blocking the caller.
type EventEmitter interface {
	Emit(ctx context.Context, event events.Event) bool
}

// Service orchestrates person registration and lookup.
type Service struct {
	store       Store
	logger      *slog.Logger
	metrics     *personmetrics.Metrics
	emitter     EventEmitter
	newID       func() id.PersonID
	searchLimit int
	tracer      trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *personmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIDGenerator replaces the random id source. Tests use it for
// deterministic ids.
func WithIDGenerator(gen func() id.PersonID) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

func WithPublisher(emitter EventEmitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

func WithSearchLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.searchLimit = limit
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("person store is required")
	}
	s := &Service{
		store:       store,
		newID:       id.NewPersonID,
		searchLimit: DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("dogfight/internal/person/service")
	}
	return s, nil
}

// Create validates req and registers a new person. Validation runs before
// anything is reserved, so a rejected request leaves no trace in the store.
func (s *Service) Create(ctx context.Context, req models.CreatePersonRequest) (*models.Person, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "person.Create")
	defer span.End()

	valid, err := req.Validate(requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncrementValidationFailure()
		s.logger.WarnContext(ctx, "person validation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		recordSpanError(span, err)
		return nil, err
	}

	person := &models.Person{
		ID:         s.newID(),
		Nickname:   valid.Nickname,
		Name:       valid.Name,
		BirthDate:  valid.BirthDate,
		Stack:      valid.Stack,
		SearchText: search.Normalize(valid.Nickname, valid.Name, valid.Stack),
		CreatedAt:  requestcontext.Now(ctx),
	}
	span.SetAttributes(attribute.String("person.id", person.ID.String()))

	if err := s.store.CreateIfNicknameAvailable(ctx, person); err != nil {
		err = s.translateCreateErr(ctx, person, err)
		recordSpanError(span, err)
		return nil, err
	}

	s.metrics.IncrementCreated()
	s.metrics.ObserveCreate(start)
	s.emitCreated(ctx, person)
	s.logger.InfoContext(ctx, "person created",
		"request_id", requestcontext.RequestID(ctx),
		"person_id", person.ID.String(),
	)
	return person, nil
}

func (s *Service) translateCreateErr(ctx context.Context, person *models.Person, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		s.metrics.IncrementConflict()
		s.logger.WarnContext(ctx, "nickname already registered",
			"request_id", requestcontext.RequestID(ctx),
			"apelido", person.Nickname,
		)
		return dErrors.Wrap(err, dErrors.CodeConflict, "apelido already registered")
	case errors.Is(err, sentinel.ErrUnavailable):
		s.logger.ErrorContext(ctx, "person store unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "person store unavailable")
	default:
		s.logger.ErrorContext(ctx, "failed to create person",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create person")
	}
}

func (s *Service) emitCreated(ctx context.Context, person *models.Person) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, events.Event{
		Type:       events.TypePersonCreated,
		PersonID:   person.ID,
		Nickname:   person.Nickname,
		RequestID:  requestcontext.RequestID(ctx),
		OccurredAt: person.CreatedAt,
	})
}

// Find returns the person with personID. A missing record is reported as
// found=false with a nil error.
func (s *Service) Find(ctx context.Context, personID id.PersonID) (*models.Person, bool, error) {
	ctx, span := s.tracer.Start(ctx, "person.Find",
		trace.WithAttributes(attribute.String("person.id", personID.String())))
	defer span.End()

	person, err := s.store.FindByID(ctx, personID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, false, nil
		}
		err = s.wrapReadErr(ctx, err, "failed to load person")
		recordSpanError(span, err)
		return nil, false, err
	}
	return person, true, nil
}

// Search returns up to the configured limit of people whose nickname, name or
// stack contains term, ignoring case and accents.
func (s *Service) Search(ctx context.Context, term string) ([]*models.Person, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "person.Search")
	defer span.End()

	people, err := s.store.Search(ctx, term, s.searchLimit)
	if err != nil {
		err = s.wrapReadErr(ctx, err, "failed to search people")
		recordSpanError(span, err)
		return nil, err
	}
	s.metrics.ObserveSearch(start)
	span.SetAttributes(attribute.Int("search.results", len(people)))
	if people == nil {
		people = []*models.Person{}
	}
	return people, nil
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "person.Count")
	defer span.End()

	n, err := s.store.Count(ctx)
	if err != nil {
		err = s.wrapReadErr(ctx, err, "failed to count people")
		recordSpanError(span, err)
		return 0, err
	}
	return n, nil
}

func (s *Service) wrapReadErr(ctx context.Context, err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}
