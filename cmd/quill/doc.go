// Command quill submits generation requests, inspects artifacts and jobs,
// and runs the worker process.
//
// Commands that touch stores open them directly from the configuration; only
// `quill worker` runs job handlers continuously.
package main
