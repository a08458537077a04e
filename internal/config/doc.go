// Package config loads, normalizes, and validates Carousel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies CAROUSEL_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need, so queue
// tunables, worker pool sizing, and the memory governor's budget are all
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
