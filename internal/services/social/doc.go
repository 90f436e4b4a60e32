// Package social is a minimal client for the publishing platform: it lists a
// subject's recent posts and creates new ones.
//
// Every post created by quill carries the artifact id as its client
// reference so a later timeline read can tell which artifacts are already
// live even if the publishing job crashed before recording the post.
package social
