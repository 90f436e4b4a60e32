// Package store persists inputs, artifacts, their child rows, and provisional
// uploads in the shared SQLite database.
//
// Artifact lifecycle writes are guarded by a generation token. BeginGeneration
// resets an artifact in one transaction (pages and derived assets deleted,
// results cleared, generation_count incremented, token rotated) and only
// succeeds for the caller holding the token it observed. Later writes for the
// cycle present the rotated token, so a worker that lost the race cannot
// overwrite a newer cycle.
package store
