// Package store persists person records and enforces nickname uniqueness.
//
// Three implementations share one contract:
//   - InMemory: mutex-guarded nickname index plus an append-only record table
//   - PostgresStore: the pessoas table with a native unique constraint
//   - RedisStore: a Redis nickname reservation set and read-through cache in
//     front of another Store
//
// Stores return sentinel errors (pkg/platform/sentinel): ErrAlreadyUsed when a
// nickname is taken, ErrNotFound on lookup misses.
package store

import (
	"context"

	"dogfight/internal/person/models"
	id "dogfight/pkg/domain"
)

// Store is the contract every implementation satisfies.
type Store interface {
	// CreateIfNicknameAvailable inserts p unless its nickname is held by another
	// record. The check and the insert are one indivisible step: of any number
	// of concurrent calls with the same nickname exactly one succeeds.
	CreateIfNicknameAvailable(ctx context.Context, p *models.Person) error
	FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error)
	// FindByNickname returns the live record holding nickname, or ErrNotFound.
	FindByNickname(ctx context.Context, nickname string) (*models.Person, error)
	// Search returns up to limit records whose search text contains the folded
	// term, in insertion order where the backend preserves it.
	Search(ctx context.Context, term string, limit int) ([]*models.Person, error)
	Count(ctx context.Context) (int64, error)
}
