package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dogfight/internal/person/models"
	"dogfight/internal/person/search"
	id "dogfight/pkg/domain"
	"dogfight/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func newTestPerson(nickname, name string, stack ...string) *models.Person {
	birth, _ := models.ParseDate("1990-05-17")
	if len(stack) == 0 {
		stack = nil
	}
	return &models.Person{
		ID:         id.NewPersonID(),
		Nickname:   nickname,
		Name:       name,
		BirthDate:  birth,
		Stack:      stack,
		SearchText: search.Normalize(nickname, name, stack),
		CreatedAt:  time.Now(),
	}
}

// TestCreationAndLookups verifies the store correctly creates and retrieves persons.
func (s *InMemoryStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds person by ID", func() {
		p := newTestPerson("josé", "José Souza", "C#", "Node")
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, p))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(p, found)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewPersonID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("finds by nickname through the index", func() {
		p := newTestPerson("indexed", "Indexed Person")
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, p))

		found, err := s.store.FindByNickname(s.ctx, "indexed")
		s.Require().NoError(err)
		s.Equal(p.ID, found.ID)
	})

	s.Run("stored record is isolated from caller mutation", func() {
		p := newTestPerson("isolated", "Isolated", "Go")
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, p))
		p.Stack[0] = "mutated"

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal([]string{"Go"}, found.Stack)
	})
}

// TestNicknameUniqueness verifies exact-match nickname uniqueness.
func (s *InMemoryStoreSuite) TestNicknameUniqueness() {
	s.Run("rejects duplicate nickname", func() {
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, newTestPerson("dup", "First")))

		err := s.store.CreateIfNicknameAvailable(s.ctx, newTestPerson("dup", "Second"))
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)

		count, err := s.store.Count(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(1), count)
	})

	s.Run("nicknames differing only in case are distinct", func() {
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, newTestPerson("Case", "Upper")))
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, newTestPerson("case", "Lower")))
	})
}

// TestConcurrentSameNickname checks that of 100 concurrent creates with one
// nickname exactly one succeeds and the rest see a conflict.
func (s *InMemoryStoreSuite) TestConcurrentSameNickname() {
	const goroutines = 100

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32
	start := make(chan struct{})

	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.store.CreateIfNicknameAvailable(s.ctx, newTestPerson("same_nick", fmt.Sprintf("Person %d", i)))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				conflictCount.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one create should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should get conflict error")

	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

// TestReservedNicknameAlwaysReadable races readers against creates: whenever
// the index knows a nickname, the record must be fetchable.
func (s *InMemoryStoreSuite) TestReservedNicknameAlwaysReadable() {
	const writers = 20
	var wg sync.WaitGroup
	done := make(chan struct{})
	var missing atomic.Int32

	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			for i := range writers {
				if _, err := s.store.FindByNickname(s.ctx, fmt.Sprintf("w%d", i)); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
					missing.Add(1)
				}
			}
		}
	}()

	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.store.CreateIfNicknameAvailable(s.ctx, newTestPerson(fmt.Sprintf("w%d", i), "Writer"))
		}()
	}
	wg.Wait()
	close(done)

	s.Zero(missing.Load())
}

// TestSearch verifies folded substring search.
func (s *InMemoryStoreSuite) TestSearch() {
	jose := newTestPerson("josé", "José Souza", "C#", "Node")
	ana := newTestPerson("ana", "Ana Barbosa", "Node", "Postgres")
	bob := newTestPerson("bob", "Bob", "Python")
	for _, p := range []*models.Person{jose, ana, bob} {
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, p))
	}

	s.Run("matches accent-insensitively", func() {
		results, err := s.store.Search(s.ctx, "jose", 50)
		s.Require().NoError(err)
		s.Require().Len(results, 1)
		s.Equal(jose.ID, results[0].ID)
	})

	s.Run("matches stack tags across records in insertion order", func() {
		results, err := s.store.Search(s.ctx, "NODE", 50)
		s.Require().NoError(err)
		s.Require().Len(results, 2)
		s.Equal(jose.ID, results[0].ID)
		s.Equal(ana.ID, results[1].ID)
	})

	s.Run("no match returns empty slice", func() {
		results, err := s.store.Search(s.ctx, "haskell", 50)
		s.Require().NoError(err)
		s.Empty(results)
	})

	s.Run("empty term matches every record", func() {
		results, err := s.store.Search(s.ctx, "", 50)
		s.Require().NoError(err)
		s.Len(results, 3)
	})

	s.Run("respects limit", func() {
		results, err := s.store.Search(s.ctx, "", 2)
		s.Require().NoError(err)
		s.Len(results, 2)
	})

	s.Run("cancelled context aborts the scan", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		_, err := s.store.Search(ctx, "node", 50)
		s.Require().ErrorIs(err, context.Canceled)
	})
}

// TestSearchCompleteness checks that a record is returned iff the term is a
// substring of its normalized text.
func (s *InMemoryStoreSuite) TestSearchCompleteness() {
	people := []*models.Person{
		newTestPerson("zé", "José da Silva", "Go", "Rust"),
		newTestPerson("mari", "Mariana", "Java"),
		newTestPerson("xx", "Sem Stack"),
	}
	for _, p := range people {
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, p))
	}

	for _, term := range []string{"go", "JAVA", "sil", "mari", "stack", "é", "zzz", "a"} {
		results, err := s.store.Search(s.ctx, term, 0)
		s.Require().NoError(err)
		got := make(map[id.PersonID]bool, len(results))
		for _, r := range results {
			got[r.ID] = true
		}
		for _, p := range people {
			s.Equal(search.Matches(p.SearchText, term), got[p.ID], "term %q person %q", term, p.Nickname)
		}
	}
}

// TestCount verifies count after sequential creates.
func (s *InMemoryStoreSuite) TestCount() {
	const n = 25
	for i := range n {
		s.Require().NoError(s.store.CreateIfNicknameAvailable(s.ctx, newTestPerson(fmt.Sprintf("p%d", i), "Person")))
	}
	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(n), count)
}
