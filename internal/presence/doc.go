// Package presence tracks the live sessions of connected users.
//
// The registry is the one structure mutated from many concurrent directions:
// connect/disconnect events interleave with fan-out lookups. All access goes
// through a single RWMutex; lookups return snapshots so pushes never happen
// under the lock.
//
// Presence is transient by design. Losing it delays a live notification at
// worst; the durable message log remains the source of truth.
package presence
