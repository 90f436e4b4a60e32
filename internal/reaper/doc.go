// Package reaper removes provisional resources that were uploaded but never
// committed.
//
// Run drains expired pending rows batch by batch. Each item's blob is
// deleted best-effort and then its row; an item that fails is counted and
// the batch carries on. SweepExpired purges rows that were already flipped
// to expired by a read after a retention window. Both passes take a
// host-level file lock so overlapping cron ticks and manual runs never
// race, and Schedule wires them to cron expressions from the config.
package reaper
