// Package blob stores derived media and uploads behind a small key/value
// interface with a filesystem backend and an S3 backend.
//
// Keys are slash separated and never start with a slash. Delete is
// idempotent: removing a missing key succeeds so cleanup passes can be
// retried freely.
package blob
