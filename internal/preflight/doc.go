// Package preflight provides readiness checks for the external services and
// filesystem paths Quill depends on.
//
// The worker runs RunAll before starting its pools and refuses to start when
// a required check fails. The CLI "quill preflight" command prints the same
// results as a table. Checks for disabled features are skipped.
package preflight
