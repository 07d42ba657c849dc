// Package config loads, normalizes, and validates transcoder configuration data.
//
// It supplies repository defaults (including the stock rendition ladder),
// expands user paths (including tilde shortcuts), reads TOML files, and
// honours environment fallbacks such as AMQP_URL, REDIS_ADDR and the standard
// AWS credential variables. Every stage process reads the same Config, so the
// broker topology, shared directory, and ladder stay consistent across
// services.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
