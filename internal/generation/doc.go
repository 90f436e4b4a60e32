// Package generation runs the generation cycle of an artifact.
//
// The Orchestrator loads the artifact and its input, resets it into a new
// cycle through a compare-and-swap on the generation token, dispatches to
// the Strategy registered for the artifact's family, then persists either
// the completed result or the failure. Completed cycles schedule the derived
// asset pipeline.
//
// Results are stored as a tagged variant: a family discriminator plus the
// family-specific payload (StoryPayload or MonologuePayload). Cost and token
// usage live in the shared Envelope.
package generation
