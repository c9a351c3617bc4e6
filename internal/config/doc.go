// SPDX-License-Identifier: MPL-2.0

// Package config handles CLI-wide configuration using Viper with CUE as the file format.
//
// Configuration is loaded from <user config dir>/kaven/config.cue, validated against
// the embedded #Config schema (config_schema.cue), and overridden by KAVEN_*
// environment variables (KAVEN_API_BASE_URL, KAVEN_TRUST_PUBLISHER_KEY, ...).
package config
