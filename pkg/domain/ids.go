// Package domain holds identifier types shared across modules.
package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "dogfight/pkg/domain-errors"
)

// PersonID identifies a person record. It is a distinct type so a raw
// uuid.UUID never slips into a store call by accident.
type PersonID uuid.UUID

// NewPersonID returns a random (v4) identifier. Generation needs no
// coordination with any store.
func NewPersonID() PersonID {
	return PersonID(uuid.New())
}

// ParsePersonID parses the textual form used on the wire.
// Empty, malformed, non-UTF8 and nil UUIDs are rejected with CodeInvalidInput.
func ParsePersonID(s string) (PersonID, error) {
	if strings.TrimSpace(s) == "" || !utf8.ValidString(s) {
		return PersonID{}, dErrors.New(dErrors.CodeInvalidInput, "person id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return PersonID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid person id")
	}
	if parsed == uuid.Nil {
		return PersonID{}, dErrors.New(dErrors.CodeInvalidInput, "person id cannot be nil")
	}
	return PersonID(parsed), nil
}

func (id PersonID) String() string {
	return uuid.UUID(id).String()
}

func (id PersonID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id PersonID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *PersonID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
