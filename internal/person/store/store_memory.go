package store

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"dogfight/internal/person/models"
	"dogfight/internal/person/search"
	id "dogfight/pkg/domain"
	"dogfight/pkg/platform/sentinel"
)

// scanCheckEvery bounds how many records a search scans between context checks.
const scanCheckEvery = 1024

// InMemory keeps persons in process memory.
//
// The nickname index and the record table have separate locks so lookups and
// searches never wait on the uniqueness check. Create holds the index lock for
// check, insert record, reserve nickname; nothing else happens under it.
// The insertion-order slice is append-only, so a search can take a prefix
// under the read lock and scan it without holding any lock.
type InMemory struct {
	indexMu   sync.Mutex
	nicknames map[string]id.PersonID

	tableMu sync.RWMutex
	byID    map[id.PersonID]*models.Person
	ordered []*models.Person

	count atomic.Int64
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		nicknames: make(map[string]id.PersonID),
		byID:      make(map[id.PersonID]*models.Person),
	}
}

// CreateIfNicknameAvailable stores a copy of p. The context is not consulted
// once the critical section starts, so an abandoned caller cannot interrupt it.
func (s *InMemory) CreateIfNicknameAvailable(_ context.Context, p *models.Person) error {
	if p == nil {
		return fmt.Errorf("person is required")
	}
	stored := p.Clone()

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if _, taken := s.nicknames[stored.Nickname]; taken {
		return fmt.Errorf("nickname %q: %w", stored.Nickname, sentinel.ErrAlreadyUsed)
	}

	s.tableMu.Lock()
	if _, exists := s.byID[stored.ID]; exists {
		s.tableMu.Unlock()
		return fmt.Errorf("duplicate person id %s", stored.ID)
	}
	s.byID[stored.ID] = stored
	s.ordered = append(s.ordered, stored)
	s.tableMu.Unlock()

	// Reserve only after the record is readable.
	s.nicknames[stored.Nickname] = stored.ID
	s.count.Add(1)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, personID id.PersonID) (*models.Person, error) {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	if p, ok := s.byID[personID]; ok {
		return p.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// FindByNickname resolves a nickname through the index.
func (s *InMemory) FindByNickname(ctx context.Context, nickname string) (*models.Person, error) {
	s.indexMu.Lock()
	personID, ok := s.nicknames[nickname]
	s.indexMu.Unlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p, err := s.FindByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("nickname %q indexed without a record: %v", nickname, err)
	}
	return p, nil
}

// Search scans a snapshot of the table in insertion order. A limit <= 0 means
// no limit. Callers that re-issue the same term see a snapshot as of their call.
func (s *InMemory) Search(ctx context.Context, term string, limit int) ([]*models.Person, error) {
	s.tableMu.RLock()
	snapshot := s.ordered[:len(s.ordered):len(s.ordered)]
	s.tableMu.RUnlock()

	results := make([]*models.Person, 0, min(max(limit, 0), 64))
	for p := range matching(ctx, snapshot, search.Fold(term)) {
		results = append(results, p.Clone())
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// matching lazily yields the records of snapshot whose search text contains
// foldedTerm. The sequence is finite and can be ranged over again; it stops
// early once ctx is done.
func matching(ctx context.Context, snapshot []*models.Person, foldedTerm string) iter.Seq[*models.Person] {
	return func(yield func(*models.Person) bool) {
		for i, p := range snapshot {
			if i%scanCheckEvery == 0 && ctx.Err() != nil {
				return
			}
			if !search.MatchesFolded(p.SearchText, foldedTerm) {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Count is read-your-writes: the counter is bumped before Create returns.
func (s *InMemory) Count(_ context.Context) (int64, error) {
	return s.count.Load(), nil
}
