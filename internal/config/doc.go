// Package config loads, normalizes, and validates quill configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// QUILL_LLM_API_KEY. Secrets may also live in a .env file next to the config
// file or in the working directory; those values are loaded into the process
// environment before normalization runs.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, per-queue concurrency, rate-limit quotas, and clear
// validation errors.
package config
