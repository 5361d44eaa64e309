package config

import (
	"fmt"
	"strings"
)

// RunMode gates behaviour that must never reach production, such as echoing
// verification codes and reset tokens in API responses.
type RunMode string

const (
	RunModeProduction  RunMode = "production"
	RunModeDevelopment RunMode = "development"
)

// ParseRunMode parses s. Empty selects production. Development is rejected in
// binaries built with the prod tag.
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RunModeProduction:
		return RunModeProduction, nil
	case RunModeDevelopment, "dev":
		if !developmentAllowed {
			return "", fmt.Errorf("config: run mode %q is not available in production builds", s)
		}
		return RunModeDevelopment, nil
	default:
		return "", fmt.Errorf("config: unknown run mode %q", s)
	}
}
