package e2e

import (
	"github.com/cucumber/godog"

	"dogfight/e2e/steps/common"
	"dogfight/e2e/steps/pessoas"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// generic requests and assertions
	common.RegisterSteps(ctx, tc)

	pessoas.RegisterSteps(ctx, tc)
}
