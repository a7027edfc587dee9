// Package config loads, validates, and defaults Veil's TOML configuration.
package config
