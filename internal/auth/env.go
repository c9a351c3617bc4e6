// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment holds the per-invocation identity overrides read from the
// process environment. CI pipelines use them instead of an interactive login.
type Environment struct {
	LicenseKey  string `env:"KAVEN_LICENSE_KEY"`
	AccessToken string `env:"KAVEN_ACCESS_TOKEN"`
}

// LoadEnvironment parses Environment from the process environment.
func LoadEnvironment() (Environment, error) {
	e, err := env.ParseAs[Environment]()
	if err != nil {
		return Environment{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// environmentFrom parses Environment from vars instead of the process.
func environmentFrom(vars map[string]string) (Environment, error) {
	return env.ParseAsWithOptions[Environment](env.Options{Environment: vars})
}
