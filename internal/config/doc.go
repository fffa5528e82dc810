// Package config loads, normalizes, and validates Inkwell configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// INKWELL_LLM_API_KEY and INKWELL_REDIS_ADDR. The Config type centralizes every
// knob the daemon and CLI need: storage locations, work-queue backend,
// orchestrator timing, quality thresholds, pricing phase parameters, and
// provider credentials.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
