package pessoas

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	POSTRaw(path, body string) error
	GET(path string) error
	Status() int
	Header(key string) string
	Body() []byte
	Unique(s string) string
	Save(key, value string)
	Saved(key string) (string, bool)
}

// RegisterSteps registers person registry steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &pessoasSteps{tc: tc}

	ctx.Step(`^I register "([^"]*)" named "([^"]*)" born "([^"]*)" with stack "([^"]*)"$`, steps.register)
	ctx.Step(`^I register "([^"]*)" named "([^"]*)" born "([^"]*)" without stack$`, steps.registerWithoutStack)
	ctx.Step(`^I POST the raw body '([^']*)' to "([^"]*)"$`, steps.postRaw)
	ctx.Step(`^I note the current person count$`, steps.noteCount)
	ctx.Step(`^I fetch the person at the returned location$`, steps.fetchLocation)
	ctx.Step(`^I search for "([^"]*)"$`, steps.search)

	ctx.Step(`^the person should have apelido "([^"]*)"$`, steps.personShouldHaveNickname)
	ctx.Step(`^the person should have nome "([^"]*)"$`, steps.personShouldHaveName)
	ctx.Step(`^the search results should include "([^"]*)"$`, steps.resultsShouldInclude)
	ctx.Step(`^the search results should have at most (\d+) entries$`, steps.resultsAtMost)
	ctx.Step(`^the person count should have grown by (\d+)$`, steps.countGrewBy)
}

type pessoasSteps struct {
	tc TestContext
}

type person struct {
	ID         string   `json:"id"`
	Apelido    string   `json:"apelido"`
	Nome       string   `json:"nome"`
	Nascimento string   `json:"nascimento"`
	Stack      []string `json:"stack"`
}

func (s *pessoasSteps) register(nickname, name, birth, stack string) error {
	tags := strings.Split(stack, ",")
	for i := range tags {
		tags[i] = strings.TrimSpace(tags[i])
	}
	return s.tc.POST("/pessoas", person{
		Apelido:    s.tc.Unique(nickname),
		Nome:       name,
		Nascimento: birth,
		Stack:      tags,
	})
}

func (s *pessoasSteps) registerWithoutStack(nickname, name, birth string) error {
	return s.tc.POST("/pessoas", person{
		Apelido:    s.tc.Unique(nickname),
		Nome:       name,
		Nascimento: birth,
	})
}

func (s *pessoasSteps) postRaw(body, path string) error {
	return s.tc.POSTRaw(path, body)
}

func (s *pessoasSteps) noteCount() error {
	n, err := s.count()
	if err != nil {
		return err
	}
	s.tc.Save("count", strconv.FormatInt(n, 10))
	return nil
}

func (s *pessoasSteps) count() (int64, error) {
	if err := s.tc.GET("/contagem-pessoas"); err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(s.tc.Body())), 10, 64)
}

func (s *pessoasSteps) fetchLocation() error {
	location := s.tc.Header("Location")
	if location == "" {
		return fmt.Errorf("no Location header in last response")
	}
	return s.tc.GET(location)
}

func (s *pessoasSteps) search(term string) error {
	return s.tc.GET("/pessoas?t=" + url.QueryEscape(term))
}

func (s *pessoasSteps) decodePerson() (person, error) {
	var p person
	if err := json.Unmarshal(s.tc.Body(), &p); err != nil {
		return p, fmt.Errorf("decode person: %w: %s", err, s.tc.Body())
	}
	return p, nil
}

func (s *pessoasSteps) personShouldHaveNickname(nickname string) error {
	p, err := s.decodePerson()
	if err != nil {
		return err
	}
	if want := s.tc.Unique(nickname); p.Apelido != want {
		return fmt.Errorf("expected apelido %q, got %q", want, p.Apelido)
	}
	return nil
}

func (s *pessoasSteps) personShouldHaveName(name string) error {
	p, err := s.decodePerson()
	if err != nil {
		return err
	}
	if p.Nome != name {
		return fmt.Errorf("expected nome %q, got %q", name, p.Nome)
	}
	return nil
}

func (s *pessoasSteps) decodeResults() ([]person, error) {
	var people []person
	if err := json.Unmarshal(s.tc.Body(), &people); err != nil {
		return nil, fmt.Errorf("decode search results: %w: %s", err, s.tc.Body())
	}
	return people, nil
}

func (s *pessoasSteps) resultsShouldInclude(nickname string) error {
	people, err := s.decodeResults()
	if err != nil {
		return err
	}
	want := s.tc.Unique(nickname)
	for _, p := range people {
		if p.Apelido == want {
			return nil
		}
	}
	return fmt.Errorf("expected %q among %d results", want, len(people))
}

func (s *pessoasSteps) resultsAtMost(n int) error {
	people, err := s.decodeResults()
	if err != nil {
		return err
	}
	if len(people) > n {
		return fmt.Errorf("expected at most %d results, got %d", n, len(people))
	}
	return nil
}

func (s *pessoasSteps) countGrewBy(delta int64) error {
	before, ok := s.tc.Saved("count")
	if !ok {
		return fmt.Errorf("no count noted earlier in the scenario")
	}
	prev, err := strconv.ParseInt(before, 10, 64)
	if err != nil {
		return err
	}
	now, err := s.count()
	if err != nil {
		return err
	}
	if now-prev < delta {
		return fmt.Errorf("expected count to grow by %d, went from %d to %d", delta, prev, now)
	}
	return nil
}
