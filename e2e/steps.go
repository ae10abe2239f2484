package e2e

import (
	"github.com/cucumber/godog"

	"identify/e2e/steps/common"
	"identify/e2e/steps/identify"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (health, status and error assertions)
	common.RegisterSteps(ctx, tc)

	// Register reconciliation steps
	identify.RegisterSteps(ctx, tc)
}
