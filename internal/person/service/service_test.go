package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"

	"dogfight/internal/person/events"
	personmetrics "dogfight/internal/person/metrics"
	"dogfight/internal/person/models"
	"dogfight/internal/person/service/mocks"
	"dogfight/internal/person/store"
	id "dogfight/pkg/domain"
	dErrors "dogfight/pkg/domain-errors"
	"dogfight/pkg/platform/sentinel"
	"dogfight/pkg/requestcontext"
)

// =============================================================================
// Service Test Suite (mocked store)
// =============================================================================
// Verifies error translation, metrics, event emission and that validation
// failures never reach the store.

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	emitter *mocks.MockEventEmitter
	metrics *personmetrics.Metrics
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func ptr(s string) *string { return &s }

func validRequest() models.CreatePersonRequest {
	return models.CreatePersonRequest{
		Nickname:  ptr("josé"),
		Name:      ptr("José Roberto"),
		BirthDate: ptr("2000-10-01"),
		Stack:     []string{"C#", "Node", "Oracle"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.emitter = mocks.NewMockEventEmitter(s.ctrl)
	s.metrics = personmetrics.New(prometheus.NewRegistry())

	svc, err := New(s.store,
		WithLogger(discardLogger()),
		WithMetrics(s.metrics),
		WithPublisher(s.emitter),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
	)
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), fixedNow), "req-1")
}

func (s *ServiceSuite) TestNewRequiresStore() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ServiceSuite) TestCreate() {
	s.Run("stores derived fields and emits event", func() {
		var stored *models.Person
		s.store.EXPECT().CreateIfNicknameAvailable(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, p *models.Person) error {
				stored = p
				return nil
			})
		s.emitter.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e events.Event) bool {
				s.Equal(events.TypePersonCreated, e.Type)
				s.Equal(stored.ID, e.PersonID)
				s.Equal("req-1", e.RequestID)
				return true
			})

		person, err := s.service.Create(s.ctx, validRequest())
		s.Require().NoError(err)
		s.Same(stored, person)
		s.False(person.ID.IsNil())
		s.Equal("josé", person.Nickname)
		s.Equal("2000-10-01", person.BirthDate.String())
		s.Contains(person.SearchText, "jose")
		s.Equal(fixedNow, person.CreatedAt)
	})

	s.Run("validation failure never reaches the store", func() {
		req := validRequest()
		req.Nickname = ptr(strings.Repeat("a", 33))

		_, err := s.service.Create(s.ctx, req)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("future birth date is a validation failure", func() {
		req := validRequest()
		req.BirthDate = ptr("2024-03-16")

		_, err := s.service.Create(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("birth date equal to today is accepted", func() {
		req := validRequest()
		req.BirthDate = ptr("2024-03-15")
		s.store.EXPECT().CreateIfNicknameAvailable(gomock.Any(), gomock.Any()).Return(nil)
		s.emitter.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(true)

		_, err := s.service.Create(s.ctx, req)
		s.NoError(err)
	})

	s.Run("taken nickname maps to conflict without event", func() {
		s.store.EXPECT().CreateIfNicknameAvailable(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("nickname %q: %w", "josé", sentinel.ErrAlreadyUsed))

		_, err := s.service.Create(s.ctx, validRequest())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unavailable store maps to unavailable", func() {
		s.store.EXPECT().CreateIfNicknameAvailable(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("reserve nickname: %w", sentinel.ErrUnavailable))

		_, err := s.service.Create(s.ctx, validRequest())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("unexpected store error maps to internal", func() {
		s.store.EXPECT().CreateIfNicknameAvailable(gomock.Any(), gomock.Any()).
			Return(errors.New("disk full"))

		_, err := s.service.Create(s.ctx, validRequest())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Equal(float64(2), testutil.ToFloat64(s.metrics.ValidationFailures))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.NicknameConflicts))
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.PersonsCreated))
}

func (s *ServiceSuite) TestCreateUsesInjectedIDGenerator() {
	fixed := id.NewPersonID()
	svc, err := New(s.store, WithLogger(discardLogger()), WithIDGenerator(func() id.PersonID { return fixed }))
	s.Require().NoError(err)
	s.store.EXPECT().CreateIfNicknameAvailable(gomock.Any(), gomock.Any()).Return(nil)

	person, err := svc.Create(s.ctx, validRequest())
	s.Require().NoError(err)
	s.Equal(fixed, person.ID)
}

func (s *ServiceSuite) TestFind() {
	personID := id.NewPersonID()

	s.Run("found", func() {
		s.store.EXPECT().FindByID(gomock.Any(), personID).Return(&models.Person{ID: personID}, nil)

		person, found, err := s.service.Find(s.ctx, personID)
		s.Require().NoError(err)
		s.True(found)
		s.Equal(personID, person.ID)
	})

	s.Run("absence is not an error", func() {
		s.store.EXPECT().FindByID(gomock.Any(), personID).Return(nil, sentinel.ErrNotFound)

		person, found, err := s.service.Find(s.ctx, personID)
		s.NoError(err)
		s.False(found)
		s.Nil(person)
	})

	s.Run("store failure is internal", func() {
		s.store.EXPECT().FindByID(gomock.Any(), personID).Return(nil, errors.New("boom"))

		_, found, err := s.service.Find(s.ctx, personID)
		s.False(found)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestSearch() {
	s.Run("uses the default limit", func() {
		s.store.EXPECT().Search(gomock.Any(), "node", DefaultSearchLimit).Return([]*models.Person{{Nickname: "a"}}, nil)

		people, err := s.service.Search(s.ctx, "node")
		s.Require().NoError(err)
		s.Len(people, 1)
	})

	s.Run("no match is an empty slice", func() {
		s.store.EXPECT().Search(gomock.Any(), "zzz", DefaultSearchLimit).Return(nil, nil)

		people, err := s.service.Search(s.ctx, "zzz")
		s.Require().NoError(err)
		s.NotNil(people)
		s.Empty(people)
	})

	s.Run("cancellation passes through", func() {
		s.store.EXPECT().Search(gomock.Any(), "x", DefaultSearchLimit).Return(nil, context.Canceled)

		_, err := s.service.Search(s.ctx, "x")
		s.ErrorIs(err, context.Canceled)
	})
}

func (s *ServiceSuite) TestSearchLimitOption() {
	svc, err := New(s.store, WithLogger(discardLogger()), WithSearchLimit(5))
	s.Require().NoError(err)
	s.store.EXPECT().Search(gomock.Any(), "go", 5).Return(nil, nil)

	_, err = svc.Search(s.ctx, "go")
	s.NoError(err)
}

func (s *ServiceSuite) TestCount() {
	s.store.EXPECT().Count(gomock.Any()).Return(int64(7), nil)
	n, err := s.service.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(7), n)

	s.store.EXPECT().Count(gomock.Any()).Return(int64(0), fmt.Errorf("count: %w", sentinel.ErrUnavailable))
	_, err = s.service.Count(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// =============================================================================
// Registry Suite (in-memory store)
// =============================================================================
// End-to-end properties of the registry against the real in-memory store.

type RegistrySuite struct {
	suite.Suite
	service *Service
	ctx     context.Context
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	svc, err := New(store.NewInMemory(), WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithTime(context.Background(), fixedNow)
}

func (s *RegistrySuite) TestRoundTrip() {
	created, err := s.service.Create(s.ctx, validRequest())
	s.Require().NoError(err)

	found, ok, err := s.service.Find(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(created.Nickname, found.Nickname)
	s.Equal(created.Name, found.Name)
	s.Equal(created.BirthDate, found.BirthDate)
	s.Equal(created.Stack, found.Stack)
}

func (s *RegistrySuite) TestAccentFoldedSearch() {
	created, err := s.service.Create(s.ctx, validRequest())
	s.Require().NoError(err)

	for _, term := range []string{"jose", "JOSÉ", "node", "rober"} {
		people, err := s.service.Search(s.ctx, term)
		s.Require().NoError(err)
		s.Require().Len(people, 1, term)
		s.Equal(created.ID, people[0].ID)
	}
}

func (s *RegistrySuite) TestSecondCreateWithSameNicknameConflicts() {
	_, err := s.service.Create(s.ctx, validRequest())
	s.Require().NoError(err)

	req := validRequest()
	req.Name = ptr("Someone Else")
	_, err = s.service.Create(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	n, err := s.service.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *RegistrySuite) TestConcurrentSameNickname() {
	const goroutines = 100
	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := validRequest()
			req.Nickname = ptr("same_nick")
			req.Name = ptr(fmt.Sprintf("Person %d", i))
			_, err := s.service.Create(s.ctx, req)
			switch {
			case err == nil:
				successCount.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *RegistrySuite) TestCountAfterCreates() {
	const n = 25
	for i := range n {
		req := validRequest()
		req.Nickname = ptr(fmt.Sprintf("nick%d", i))
		_, err := s.service.Create(s.ctx, req)
		s.Require().NoError(err)
	}
	count, err := s.service.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(n), count)
}

func (s *RegistrySuite) TestFindUnknown() {
	person, ok, err := s.service.Find(s.ctx, id.NewPersonID())
	s.NoError(err)
	s.False(ok)
	s.Nil(person)
}
