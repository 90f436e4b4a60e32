// Package language normalizes the output language requested for an artifact
// and names it for prompts.
package language
