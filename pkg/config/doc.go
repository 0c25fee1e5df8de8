// Package config loads and validates gatehouse configuration from
// environment variables. All settings use the GATEHOUSE_ prefix and carry
// sensible defaults so a local instance starts with only a Postgres URL.
package config
