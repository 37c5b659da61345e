// ABOUTME: In-memory fan-out of new messages to every live session of every recipient
// ABOUTME: Recipient sets come from the conversation (direct) or the user directory (group)

package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/evalhub/message-gateway/internal/directory"
	"github.com/evalhub/message-gateway/internal/presence"
	"github.com/evalhub/message-gateway/internal/store"
)

// directoryTimeout bounds the group-membership lookup during a publish so a
// slow directory can't stall the send path for long. The push itself is
// in-memory and non-blocking.
const directoryTimeout = 5 * time.Second

// Broadcaster fans each persisted message out to the live sessions of every
// recipient. Delivery is at-most-once per handle per publish: no retries, no
// queueing for offline recipients - the durable log covers anything missed.
type Broadcaster struct {
	registry  *presence.Registry
	directory directory.Directory
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(registry *presence.Registry, dir directory.Directory, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry:  registry,
		directory: dir,
		logger:    logger.With("component", "broadcaster"),
	}
}

// Publish pushes a receive-message event to every live session of every
// recipient of the conversation, excluding the sender. A recipient with no
// live sessions receives nothing - they will see the message on their next
// list call. Errors degrade the live path only; Publish never fails a send.
func (b *Broadcaster) Publish(conv *store.Conversation, msg *store.Message) {
	recipients, err := b.recipients(conv, msg.SenderID)
	if err != nil {
		b.logger.Error("recipient resolution failed, live push skipped",
			"error", err,
			"conversation_id", conv.ID,
			"message_id", msg.ID)
		return
	}

	event := &presence.Event{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
	}

	delivered := 0
	for _, recipientID := range recipients {
		for _, session := range b.registry.SessionsFor(recipientID) {
			if err := session.Push(event); err != nil {
				// Dead or saturated handle: drop it and move on. The client
				// re-registers on reconnect.
				b.logger.Debug("dropping dead session",
					"user_id", recipientID,
					"session_id", session.ID(),
					"error", err)
				b.registry.Unregister(recipientID, session.ID())
				continue
			}
			delivered++
		}
	}

	b.logger.Debug("published message",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"recipients", len(recipients),
		"deliveries", delivered)
}

// recipients computes who should receive the event. Direct: the other
// participant. Group: whoever the directory says is a member right now.
func (b *Broadcaster) recipients(conv *store.Conversation, senderID string) ([]string, error) {
	if conv.Kind == store.KindDirect {
		others := make([]string, 0, 1)
		for _, p := range conv.Participants() {
			if p != senderID {
				others = append(others, p)
			}
		}
		return others, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()

	members, err := directory.MembersOf(ctx, b.directory, conv.GroupName)
	if err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(members))
	for _, id := range members {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}
	return recipients, nil
}

// Ensure Broadcaster implements Publisher
var _ Publisher = (*Broadcaster)(nil)
