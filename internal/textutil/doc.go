// Package textutil holds small string helpers shared by generation, blob
// storage, and the CLI: rune-safe truncation and upload filename
// sanitization.
package textutil
