// ABOUTME: HTTP API handlers for the messaging endpoints
// ABOUTME: Provides send, conversation listing, message history, and read-marker routes

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/evalhub/message-gateway/internal/conversation"
	"github.com/evalhub/message-gateway/internal/store"
)

// userIDHeader carries the authenticated caller's identity. The portal in
// front of this service authenticates the session and forwards the user id;
// requests arriving without it are rejected.
const userIDHeader = "X-User-ID"

// SendTarget addresses a send: a single user (direct) or a named group.
// Exactly one field must be set.
type SendTarget struct {
	UserID    string `json:"user_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /api/send.
// sender_id is optional; when present it must match the authenticated
// identity from the X-User-ID header.
type SendMessageRequest struct {
	SenderID string     `json:"sender_id,omitempty"`
	Target   SendTarget `json:"target"`
	Message  string     `json:"message"`
}

// SendMessageResponse is the JSON response for POST /api/send.
type SendMessageResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	CreatedAt      string `json:"created_at"`
}

// ConversationResponse is one element of GET /api/conversations.
type ConversationResponse struct {
	ID                 string `json:"id"`
	Kind               string `json:"kind"`
	ParticipantA       string `json:"participant_a,omitempty"`
	ParticipantB       string `json:"participant_b,omitempty"`
	GroupName          string `json:"group_name,omitempty"`
	LastMessagePreview string `json:"last_message_preview"`
	UnreadCount        int    `json:"unread_count"`
	UpdatedAt          string `json:"updated_at"`
}

// MessageResponse is one element of the message history.
type MessageResponse struct {
	ID        string `json:"id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// ConversationMessagesResponse is the JSON response for
// GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// handleSend handles POST /api/send requests.
// It resolves or creates the target conversation, appends the message,
// and fans it out to live sessions before responding.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		s.sendJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	req, err := parseSendRequest(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SenderID != "" && req.SenderID != userID {
		s.sendJSONError(w, http.StatusBadRequest, "sender_id does not match authenticated user")
		return
	}

	resp, err := s.service.Send(r.Context(), &conversation.SendRequest{
		SenderID: userID,
		Target: conversation.Target{
			UserID:    req.Target.UserID,
			GroupName: req.Target.GroupName,
		},
		Body: req.Message,
	})
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, SendMessageResponse{
		ConversationID: resp.ConversationID,
		MessageID:      resp.MessageID,
		CreatedAt:      resp.CreatedAt.Format(time.RFC3339Nano),
	})
}

// handleListConversations handles GET /api/conversations requests.
// Conversations are returned most recently active first.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		s.sendJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	summaries, err := s.service.ListConversations(r.Context(), userID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	response := make([]ConversationResponse, 0, len(summaries))
	for _, summary := range summaries {
		response = append(response, ConversationResponse{
			ID:                 summary.ID,
			Kind:               string(summary.Kind),
			ParticipantA:       summary.ParticipantA,
			ParticipantB:       summary.ParticipantB,
			GroupName:          summary.GroupName,
			LastMessagePreview: summary.LastMessagePreview,
			UnreadCount:        summary.UnreadCount,
			UpdatedAt:          summary.UpdatedAt.Format(time.RFC3339Nano),
		})
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
// Messages are returned oldest first.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		s.sendJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	conversationID := mux.Vars(r)["id"]

	messages, err := s.service.ListMessages(r.Context(), conversationID, userID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	response := ConversationMessagesResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, 0, len(messages)),
	}
	for _, msg := range messages {
		response.Messages = append(response.Messages, MessageResponse{
			ID:        msg.ID,
			SenderID:  msg.SenderID,
			Body:      msg.Body,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleMarkRead handles POST /api/conversations/{id}/read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		s.sendJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	conversationID := mux.Vars(r)["id"]

	if err := s.service.MarkRead(r.Context(), conversationID, userID); err != nil {
		s.sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// parseSendRequest parses and validates a SendMessageRequest from the given reader.
// Returns an error if the JSON is invalid or the message field is missing.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Message == "" {
		return nil, errors.New("message is required")
	}

	return &req, nil
}

// sendServiceError maps service-layer errors onto HTTP statuses.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidArgument):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrForbidden):
		s.sendJSONError(w, http.StatusForbidden, "not a participant of this conversation")
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrUnavailable):
		s.logger.Error("storage unavailable", "error", err)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
