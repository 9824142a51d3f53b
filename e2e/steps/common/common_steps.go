package common

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	Status() int
	Header(key string) string
	Body() []byte
}

// RegisterSteps registers generic request and response steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response body should be "([^"]*)"$`, steps.bodyShouldBe)
	ctx.Step(`^the response header "([^"]*)" should start with "([^"]*)"$`, steps.headerShouldStartWith)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) get(path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) statusShouldBe(want int) error {
	if got := s.tc.Status(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, s.tc.Body())
	}
	return nil
}

func (s *commonSteps) bodyShouldBe(want string) error {
	if got := strings.TrimSpace(string(s.tc.Body())); got != want {
		return fmt.Errorf("expected body %q, got %q", want, got)
	}
	return nil
}

func (s *commonSteps) headerShouldStartWith(key, prefix string) error {
	if got := s.tc.Header(key); !strings.HasPrefix(got, prefix) {
		return fmt.Errorf("expected header %s to start with %q, got %q", key, prefix, got)
	}
	return nil
}
