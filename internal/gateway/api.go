// ABOUTME: HTTP API handlers for conversations, group joins and unread reconciliation
// ABOUTME: Provides the /chat endpoints used by clients on load and after reconnecting

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/huddle-gateway/internal/auth"
	"github.com/2389/huddle-gateway/internal/conversation"
	"github.com/2389/huddle-gateway/internal/protocol"
	"github.com/2389/huddle-gateway/internal/store"
	"github.com/2389/huddle-gateway/internal/unread"
)

var validate = validator.New()

// JoinRequest is the JSON request body for POST /chat/join.
type JoinRequest struct {
	UserID  string `json:"userId" validate:"required"`
	GroupID string `json:"groupId" validate:"required"`
}

// ConversationsResponse is the JSON response for GET /chat/conversations.
type ConversationsResponse struct {
	Conversations []protocol.Conversation `json:"conversations"`
}

// MessageResponse carries a human readable outcome
type MessageResponse struct {
	Message string `json:"message"`
}

// handleConversations returns every conversation of userId, most recent first.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := auth.CheckActingAs(r.Context(), userID); err != nil {
		g.sendJSONError(w, http.StatusForbidden, "cannot read another user's conversations")
		return
	}

	convs, err := g.directory.ListForUser(r.Context(), userID)
	if err != nil {
		g.logger.Error("listing conversations", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(convs) == 0 {
		g.sendJSONError(w, http.StatusNotFound, "no conversations found")
		return
	}

	g.sendJSON(w, http.StatusOK, ConversationsResponse{Conversations: convs})
}

// handleJoin adds userId to the group groupId.
func (g *Gateway) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "userId and groupId are required")
		return
	}
	if err := auth.CheckActingAs(r.Context(), req.UserID); err != nil {
		g.sendJSONError(w, http.StatusForbidden, "cannot join on behalf of another user")
		return
	}

	err := g.directory.Join(r.Context(), req.GroupID, req.UserID)
	switch {
	case err == nil:
		g.sendJSON(w, http.StatusOK, MessageResponse{Message: "joined group"})
	case errors.Is(err, conversation.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "group not found")
	case errors.Is(err, conversation.ErrInvalidKind):
		g.sendJSONError(w, http.StatusBadRequest, "conversation is not a group")
	case errors.Is(err, conversation.ErrAlreadyMember):
		g.sendJSONError(w, http.StatusConflict, "already a member of this group")
	case errors.Is(err, conversation.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("joining group", "group_id", req.GroupID, "user_id", req.UserID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleUnreadMessages returns what userId missed since their last disconnect.
func (g *Gateway) handleUnreadMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := auth.CheckActingAs(r.Context(), userID); err != nil {
		g.sendJSONError(w, http.StatusForbidden, "cannot read another user's messages")
		return
	}

	missed, err := g.unread.ComputeUnread(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		g.logger.Error("computing unread", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, protocol.UnreadMessages{
		Messages: lo.Map(unread.Flatten(missed), func(m *store.Message, _ int) protocol.ReceiveMessage {
			return protocol.ReceiveMessage{Message: conversation.WireMessage(m), ConversationID: m.ConversationID}
		}),
		Conversations: unread.Counts(missed),
	})
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
