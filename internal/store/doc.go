// Package store provides persistent storage for the messaging core using SQLite.
//
// # Data Models
//
//   - Conversation: a direct (two-party) or group (named) message thread with
//     denormalized recency metadata (last message preview, updated_at)
//   - Message: an immutable entry in a conversation's append-only log
//   - Read markers: per-user last-read timestamps backing unread counts
//
// # Uniqueness
//
// The core invariant is enforced at the storage layer: a unique index on the
// sorted participant pair key (direct) and on the group name (group). A
// concurrent create that loses the race gets ErrDuplicateConversation and is
// expected to re-read the winner's row.
//
// # Ordering
//
// AppendMessage assigns timestamps from a per-conversation monotonic clock,
// so createdAt never decreases within a conversation even if the wall clock
// does. ListMessages orders by (created_at, rowid), making ties deterministic
// in insertion order. ListConversationsForUser orders by updated_at
// descending, and TouchConversation never moves updated_at backwards.
package store
