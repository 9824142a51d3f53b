package models

import (
	"slices"
	"time"

	id "dogfight/pkg/domain"
)

const (
	MaxNicknameLength = 32
	MaxNameLength     = 100
	MaxStackTagLength = 32
)

// Person is the only entity of the registry. Records are append-only.
//
// Invariants:
//   - ID is assigned once at creation and never changes
//   - Nickname is unique across all records
//   - SearchText is derived from Nickname, Name and Stack and never set by callers
type Person struct {
	ID        id.PersonID `json:"id"`
	Nickname  string      `json:"apelido"`
	Name      string      `json:"nome"`
	BirthDate Date        `json:"nascimento"`
	Stack     []string    `json:"stack"`

	SearchText string    `json:"-"`
	CreatedAt  time.Time `json:"-"`
}

// Clone returns a deep copy so callers never share the stored Stack slice.
func (p *Person) Clone() *Person {
	if p == nil {
		return nil
	}
	c := *p
	c.Stack = slices.Clone(p.Stack)
	return &c
}
