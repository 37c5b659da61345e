// Package conversation provides the messaging core's orchestration layer.
//
// # Service
//
// The Service coordinates every send:
//
//	svc := conversation.NewService(store, broadcaster, logger)
//
// Key operations:
//
//   - Send(ctx, req): resolve-or-create the conversation, append the
//     message, touch recency metadata, publish the live event
//   - ListConversations(ctx, userID): recency-ordered conversation summaries
//   - ListMessages(ctx, conversationID, requesterID): append-ordered log,
//     with a participant check on direct conversations
//   - MarkRead(ctx, conversationID, userID): advance the read marker
//
// # Resolution
//
// Conversations are keyed naturally: direct by the unordered participant
// pair, group by name. Resolution is lookup-then-insert with the storage
// layer's unique index as the arbiter; losing the insert race means another
// sender created the conversation first, and the loser re-reads and uses the
// winner's row. The conflict is recovered here and never surfaced.
//
// # Broadcaster
//
// The Broadcaster computes the recipient set (the other participant for
// direct, the directory's current role members for group) and pushes the
// event to every live session of every recipient via the presence registry.
// The push is at-most-once per handle and strictly best-effort.
package conversation
