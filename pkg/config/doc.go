// Package config loads and validates application configuration from
// environment variables. All variables carry the COACHDECK_ prefix.
package config
