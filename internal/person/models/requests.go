package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	dErrors "dogfight/pkg/domain-errors"
)

// CreatePersonRequest is the wire shape of POST /pessoas. Pointer fields
// distinguish an absent or null value from an empty string.
type CreatePersonRequest struct {
	Nickname  *string  `json:"apelido"`
	Name      *string  `json:"nome"`
	BirthDate *string  `json:"nascimento"`
	Stack     []string `json:"stack"`
}

// ValidatedPerson holds the fields of a request that passed validation.
type ValidatedPerson struct {
	Nickname  string
	Name      string
	BirthDate Date
	Stack     []string
}

// Validate checks shape and bounds. today is the request-scoped date used for
// the "not in the future" rule. Every failure is a CodeValidation error.
func (r CreatePersonRequest) Validate(today time.Time) (ValidatedPerson, error) {
	nickname, err := requiredText("apelido", r.Nickname, MaxNicknameLength)
	if err != nil {
		return ValidatedPerson{}, err
	}
	name, err := requiredText("nome", r.Name, MaxNameLength)
	if err != nil {
		return ValidatedPerson{}, err
	}
	if r.BirthDate == nil {
		return ValidatedPerson{}, dErrors.New(dErrors.CodeValidation, "nascimento is required")
	}
	birth, err := ParseDate(*r.BirthDate)
	if err != nil {
		return ValidatedPerson{}, dErrors.New(dErrors.CodeValidation, "nascimento must be a YYYY-MM-DD date")
	}
	if birth.After(DateOf(today)) {
		return ValidatedPerson{}, dErrors.New(dErrors.CodeValidation, "nascimento cannot be in the future")
	}

	var stack []string
	if len(r.Stack) > 0 {
		stack = make([]string, 0, len(r.Stack))
		for i, tag := range r.Stack {
			if err := checkText(fmt.Sprintf("stack[%d]", i), tag, MaxStackTagLength); err != nil {
				return ValidatedPerson{}, err
			}
			stack = append(stack, tag)
		}
	}

	return ValidatedPerson{
		Nickname:  nickname,
		Name:      name,
		BirthDate: birth,
		Stack:     stack,
	}, nil
}

func requiredText(field string, v *string, maxLen int) (string, error) {
	if v == nil {
		return "", dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	if err := checkText(field, *v, maxLen); err != nil {
		return "", err
	}
	return *v, nil
}

// checkText enforces 1..maxLen characters, valid UTF-8, no control characters.
// Control characters are reserved for the search text separator.
func checkText(field, v string, maxLen int) error {
	if strings.TrimSpace(v) == "" {
		return dErrors.New(dErrors.CodeValidation, field+" cannot be empty")
	}
	if !utf8.ValidString(v) {
		return dErrors.New(dErrors.CodeValidation, field+" must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(v); n > maxLen {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be at most %d characters", field, maxLen))
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return dErrors.New(dErrors.CodeValidation, field+" cannot contain control characters")
	}
	return nil
}
