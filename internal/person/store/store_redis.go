package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"dogfight/internal/person/metrics"
	"dogfight/internal/person/models"
	id "dogfight/pkg/domain"
	"dogfight/pkg/platform/circuit"
	"dogfight/pkg/platform/sentinel"
)

const (
	// Redis set holding every reserved nickname.
	nicknameSetKey = "pessoas:apelidos"
	// Redis key prefix for cached person records.
	personKeyPrefix = "pessoas:id:"

	defaultCacheTTL = 10 * time.Minute
)

// RedisStore fronts another Store with Redis.
//
// Nicknames are reserved with SADD, which is atomic across every instance
// sharing the Redis server. The set is a fast path, not the authority: a zero
// reply is reported as a conflict only once the backing store shows a record
// holding the nickname. Otherwise the holder is an insert still in flight or a
// stale reservation, and the backing store's own uniqueness check decides.
// A reservation is released only when the backing insert fails for a reason
// other than a conflict and no record holds the nickname.
// Created records go into a read-through cache consulted by FindByID. Cache
// traffic goes through a circuit breaker: while it is open, lookups go
// straight to the backing store. Reservations never bypass Redis.
type RedisStore struct {
	client   *redis.Client
	next     Store
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	breaker  *circuit.Breaker
	lookups  singleflight.Group
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

func WithCacheTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRedisMetrics(m *metrics.Metrics) RedisOption {
	return func(s *RedisStore) {
		s.metrics = m
	}
}

// WithCacheBreaker replaces the default cache circuit breaker.
func WithCacheBreaker(b *circuit.Breaker) RedisOption {
	return func(s *RedisStore) {
		if b != nil {
			s.breaker = b
		}
	}
}

// NewRedis wraps next with a Redis nickname reservation and record cache.
func NewRedis(client *redis.Client, next Store, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:   client,
		next:     next,
		cacheTTL: defaultCacheTTL,
		logger:   slog.Default(),
		breaker:  circuit.New("person-cache"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// cachedPerson is the cache encoding; Person's JSON form hides derived fields.
type cachedPerson struct {
	ID         id.PersonID `json:"id"`
	Nickname   string      `json:"apelido"`
	Name       string      `json:"nome"`
	BirthDate  models.Date `json:"nascimento"`
	Stack      []string    `json:"stack"`
	SearchText string      `json:"search_text"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (s *RedisStore) CreateIfNicknameAvailable(ctx context.Context, p *models.Person) error {
	if p == nil {
		return fmt.Errorf("person is required")
	}
	// Reservation, insert and release must all run even if the caller leaves.
	ctx = context.WithoutCancel(ctx)

	added, err := s.client.SAdd(ctx, nicknameSetKey, p.Nickname).Result()
	if err != nil {
		return fmt.Errorf("reserve nickname: %w: %w", sentinel.ErrUnavailable, err)
	}
	if added == 0 {
		if _, err := s.next.FindByNickname(ctx, p.Nickname); err == nil {
			return fmt.Errorf("nickname %q: %w", p.Nickname, sentinel.ErrAlreadyUsed)
		}
		return s.createUnreserved(ctx, p)
	}

	if err := s.next.CreateIfNicknameAvailable(ctx, p); err != nil {
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.release(ctx, p.Nickname)
		}
		return err
	}

	s.fill(ctx, p)
	return nil
}

// createUnreserved inserts p when the set already lists its nickname but no
// record holds it. The reservation belongs to someone else, so it is never
// released here.
func (s *RedisStore) createUnreserved(ctx context.Context, p *models.Person) error {
	if err := s.next.CreateIfNicknameAvailable(ctx, p); err != nil {
		return err
	}
	// The in-flight holder may have released the nickname meanwhile.
	if err := s.client.SAdd(ctx, nicknameSetKey, p.Nickname).Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to restore nickname reservation",
			"nickname", p.Nickname,
			"error", err,
		)
	}
	s.fill(ctx, p)
	return nil
}

// release drops a reservation whose insert failed, unless another create has
// since stored a record under the nickname.
func (s *RedisStore) release(ctx context.Context, nickname string) {
	if _, err := s.next.FindByNickname(ctx, nickname); err == nil {
		return
	}
	if err := s.client.SRem(ctx, nicknameSetKey, nickname).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to release nickname reservation",
			"nickname", nickname,
			"error", err,
		)
	}
}

// FindByID serves from the cache, falling back to the backing store.
// Concurrent misses for the same id share one backing lookup.
func (s *RedisStore) FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	key := personKey(personID)
	if cached, ok := s.readCache(ctx, key, personID); ok {
		s.metrics.RecordCacheHit()
		return cached, nil
	}
	s.metrics.RecordCacheMiss()

	// The shared lookup must not fail for every waiter when the first one leaves.
	v, err, _ := s.lookups.Do(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		p, err := s.next.FindByID(detached, personID)
		if err != nil {
			return nil, err
		}
		s.fill(detached, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Person).Clone(), nil
}

func (s *RedisStore) readCache(ctx context.Context, key string, personID id.PersonID) (*models.Person, bool) {
	if !s.breaker.Allow() {
		return nil, false
	}
	// A caller leaving must not count as a Redis failure.
	raw, err := s.client.Get(context.WithoutCancel(ctx), key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.recordCacheFailure(ctx, err)
		return nil, false
	}
	s.breaker.RecordSuccess()
	if err != nil {
		return nil, false
	}

	var cached cachedPerson
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.logger.WarnContext(ctx, "discarding undecodable cached person",
			"person_id", personID.String(),
			"error", err,
		)
		return nil, false
	}
	return fromCache(cached), true
}

func (s *RedisStore) recordCacheFailure(ctx context.Context, err error) {
	if s.breaker.RecordFailure() {
		s.logger.WarnContext(ctx, "person cache circuit opened", "error", err)
		return
	}
	s.logger.WarnContext(ctx, "person cache operation failed", "error", err)
}

func (s *RedisStore) FindByNickname(ctx context.Context, nickname string) (*models.Person, error) {
	return s.next.FindByNickname(ctx, nickname)
}

func (s *RedisStore) Search(ctx context.Context, term string, limit int) ([]*models.Person, error) {
	return s.next.Search(ctx, term, limit)
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	return s.next.Count(ctx)
}

// fill writes p to the cache. Failures only cost a later cache miss.
func (s *RedisStore) fill(ctx context.Context, p *models.Person) {
	raw, err := json.Marshal(toCache(p))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode person for cache", "error", err)
		return
	}
	if !s.breaker.Allow() {
		return
	}
	if err := s.client.Set(ctx, personKey(p.ID), raw, s.cacheTTL).Err(); err != nil {
		s.recordCacheFailure(ctx, err)
		return
	}
	s.breaker.RecordSuccess()
}

// Health checks if the Redis connection is healthy.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func personKey(personID id.PersonID) string {
	return personKeyPrefix + personID.String()
}

func toCache(p *models.Person) cachedPerson {
	return cachedPerson{
		ID:         p.ID,
		Nickname:   p.Nickname,
		Name:       p.Name,
		BirthDate:  p.BirthDate,
		Stack:      p.Stack,
		SearchText: p.SearchText,
		CreatedAt:  p.CreatedAt,
	}
}

func fromCache(c cachedPerson) *models.Person {
	return &models.Person{
		ID:         c.ID,
		Nickname:   c.Nickname,
		Name:       c.Name,
		BirthDate:  c.BirthDate,
		Stack:      c.Stack,
		SearchText: c.SearchText,
		CreatedAt:  c.CreatedAt,
	}
}
