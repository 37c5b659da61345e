// ABOUTME: ConversationService is the central layer for message sends
// ABOUTME: All messages flow through here - the durable log is the source of truth, not the live push

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evalhub/message-gateway/internal/store"
)

// ErrInvalidArgument is returned for malformed send/list requests
// (empty body, missing sender, ambiguous target). Never retried.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrForbidden is returned when the requester is not a participant of a
// direct conversation. Group conversations are open by design.
var ErrForbidden = errors.New("forbidden")

// ErrUnavailable is returned when storage cannot serve a request.
// Safe for the caller to retry.
var ErrUnavailable = errors.New("storage unavailable")

// previewRunes caps the denormalized last-message preview.
const previewRunes = 120

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetDirectConversation(ctx context.Context, pairKey string) (*store.Conversation, error)
	GetGroupConversation(ctx context.Context, groupName string) (*store.Conversation, error)
	TouchConversation(ctx context.Context, id, preview string, ts time.Time) error
	ListConversationsForUser(ctx context.Context, userID string) ([]*store.ConversationSummary, error)

	AppendMessage(ctx context.Context, conversationID, senderID, body string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)

	MarkRead(ctx context.Context, userID, conversationID string, ts time.Time) error
}

// Publisher defines what the service needs from the live fan-out layer.
// Publishing is best-effort and must never fail the send.
type Publisher interface {
	Publish(conv *store.Conversation, msg *store.Message)
}

// Service orchestrates conversation resolution, message persistence, recency
// updates, and the live publish for every send.
type Service struct {
	store     ConversationStore
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates a new ConversationService. Pass nil logger for default.
func NewService(st ConversationStore, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		publisher: publisher,
		logger:    logger.With("component", "conversation"),
	}
}

// Target identifies the recipient of a send: a single user (direct) or a
// role-addressed group name. Exactly one field must be set.
type Target struct {
	UserID    string
	GroupName string
}

// SendRequest contains everything needed to send a message
type SendRequest struct {
	SenderID string
	Target   Target
	Body     string
}

// SendResponse contains the result of a send
type SendResponse struct {
	ConversationID string
	MessageID      string
	CreatedAt      time.Time
}

// Send resolves the conversation, appends the message, updates recency
// metadata, and fans out a live notification.
//
// The durable part (resolve, append, touch) comes first; the live publish is
// best-effort and can never fail the send. A conversation created by a send
// whose append then fails remains valid and re-discoverable - a conversation
// with zero messages is not an error state.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if err := validateSend(req); err != nil {
		return nil, err
	}

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, storageErr("conversation resolution failed", err)
	}

	msg, err := s.store.AppendMessage(ctx, conv.ID, req.SenderID, req.Body)
	if err != nil {
		return nil, storageErr("failed to record message", err)
	}

	if err := s.store.TouchConversation(ctx, conv.ID, previewOf(req.Body), msg.CreatedAt); err != nil {
		// The message is durable; a failed touch only leaves the listing
		// metadata stale until the next send.
		s.logger.Error("failed to touch conversation",
			"error", err,
			"conversation_id", conv.ID,
			"message_id", msg.ID)
	}

	s.logger.Debug("message recorded",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender_id", req.SenderID)

	s.publisher.Publish(conv, msg)

	return &SendResponse{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// ListConversations returns the user's conversations, most recently active
// first: direct threads they participate in plus all group threads.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	summaries, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, storageErr("listing conversations failed", err)
	}
	return summaries, nil
}

// ListMessages returns a conversation's messages in append order. The
// requester must be a participant of a direct conversation; group
// conversations are not restricted.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string) ([]*store.Message, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, fmt.Errorf("%w: requester id is required", ErrInvalidArgument)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storageErr("loading conversation failed", err)
	}
	if !conv.HasParticipant(requesterID) {
		return nil, ErrForbidden
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, storageErr("listing messages failed", err)
	}
	return messages, nil
}

// MarkRead records that the user has seen a conversation up to now.
// Subject to the same participant check as ListMessages.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return storageErr("loading conversation failed", err)
	}
	if !conv.HasParticipant(userID) {
		return ErrForbidden
	}

	if err := s.store.MarkRead(ctx, userID, conversationID, time.Now()); err != nil {
		return storageErr("recording read marker failed", err)
	}
	return nil
}

// resolveConversation finds the conversation matching the target's natural
// key or creates it. A concurrent first-send racing on the same key loses
// the insert with ErrDuplicateConversation and re-reads the winner's row, so
// callers always converge on exactly one conversation.
func (s *Service) resolveConversation(ctx context.Context, req *SendRequest) (*store.Conversation, error) {
	if req.Target.GroupName != "" {
		return s.resolveGroup(ctx, req.Target.GroupName)
	}
	return s.resolveDirect(ctx, req.SenderID, req.Target.UserID)
}

func (s *Service) resolveDirect(ctx context.Context, senderID, recipientID string) (*store.Conversation, error) {
	pairKey := store.DirectPairKey(senderID, recipientID)

	conv, err := s.store.GetDirectConversation(ctx, pairKey)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = store.NewDirectConversation(uuid.New().String(), senderID, recipientID, time.Now())
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			s.logger.Debug("conversation creation hit duplicate, retrying lookup", "pair_key", pairKey)
			existing, lookupErr := s.store.GetDirectConversation(ctx, pairKey)
			if lookupErr == nil {
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID, "kind", conv.Kind)
	return conv, nil
}

func (s *Service) resolveGroup(ctx context.Context, groupName string) (*store.Conversation, error) {
	conv, err := s.store.GetGroupConversation(ctx, groupName)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = store.NewGroupConversation(uuid.New().String(), groupName, time.Now())
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			s.logger.Debug("conversation creation hit duplicate, retrying lookup", "group_name", groupName)
			existing, lookupErr := s.store.GetGroupConversation(ctx, groupName)
			if lookupErr == nil {
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID, "kind", conv.Kind)
	return conv, nil
}

// validateSend rejects malformed requests before anything touches storage.
func validateSend(req *SendRequest) error {
	if strings.TrimSpace(req.SenderID) == "" {
		return fmt.Errorf("%w: sender id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Body) == "" {
		return fmt.Errorf("%w: message body is required", ErrInvalidArgument)
	}

	hasUser := req.Target.UserID != ""
	hasGroup := req.Target.GroupName != ""
	if hasUser == hasGroup {
		return fmt.Errorf("%w: target must be exactly one of user id or group name", ErrInvalidArgument)
	}
	if hasUser && req.Target.UserID == req.SenderID {
		return fmt.Errorf("%w: cannot send a direct message to yourself", ErrInvalidArgument)
	}
	return nil
}

// storageErr classifies a store failure. Sentinels that carry request
// semantics pass through untouched; everything else is an unreachable or
// failing backend and surfaces as ErrUnavailable.
func storageErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicateConversation) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// previewOf truncates a body for the denormalized conversation preview.
func previewOf(body string) string {
	runes := []rune(body)
	if len(runes) <= previewRunes {
		return body
	}
	return string(runes[:previewRunes]) + "…"
}
