// SPDX-License-Identifier: MPL-2.0

package config

import (
	"time"

	"github.com/bychrisr/kaven-cli/internal/api"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultPublisherKey is the Ed25519 key kaven releases are signed with.
	DefaultPublisherKey = "3d4017c3e843895a92b70aa74d1b7ebc9c982ccf2ec4968cc0cd55f12af4660c"
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// Config is the CLI-wide configuration.
	Config struct {
		API      APIConfig      `json:"api" mapstructure:"api"`
		Registry RegistryConfig `json:"registry" mapstructure:"registry"`
		Trust    TrustConfig    `json:"trust" mapstructure:"trust"`
		UI       UIConfig       `json:"ui" mapstructure:"ui"`
	}

	// APIConfig configures the marketplace client.
	APIConfig struct {
		BaseURL string        `json:"base_url" mapstructure:"base_url"`
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
		Retries int           `json:"retries" mapstructure:"retries"`
	}

	// RegistryConfig selects an offline registry. Dir empty means the
	// marketplace is used.
	RegistryConfig struct {
		Dir string `json:"dir" mapstructure:"dir"`
	}

	// TrustConfig pins the publisher key artifacts must be signed with.
	TrustConfig struct {
		PublisherKey string `json:"publisher_key" mapstructure:"publisher_key"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
	}
)

// DefaultConfig returns the configuration used when no file or env var
// overrides a value.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: api.DefaultBaseURL,
			Timeout: api.DefaultTimeout,
			Retries: api.DefaultRetries,
		},
		Trust: TrustConfig{PublisherKey: DefaultPublisherKey},
		UI:    UIConfig{ColorScheme: ColorSchemeAuto},
	}
}
