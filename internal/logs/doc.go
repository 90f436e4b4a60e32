// Package logs reads the worker log file for `quill logs`: the last N lines,
// then optionally every line appended afterwards. Following survives
// rotation, which truncates or replaces the file under the same path.
package logs
