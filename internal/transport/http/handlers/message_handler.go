package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/errs"
	"github.com/vedran77/klasa/internal/repository"
	"github.com/vedran77/klasa/internal/service"
	"github.com/vedran77/klasa/internal/transport/http/middleware"
	"github.com/vedran77/klasa/pkg/validator"
)

type MessageHandler struct {
	store   repository.MessageStore
	tracker *service.ReadTracker
	log     *zap.Logger
}

func NewMessageHandler(store repository.MessageStore, tracker *service.ReadTracker, log *zap.Logger) *MessageHandler {
	return &MessageHandler{store: store, tracker: tracker, log: log}
}

// List returns a page of the conversation with {peer}, oldest first.
// ?before=RFC3339 bounds the page for backwards pagination.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	peerID, err := uuid.Parse(r.PathValue("peer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PEER", "Invalid peer ID")
		return
	}

	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BEFORE", "before must be RFC3339")
			return
		}
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	key := domain.NewConversationKey(userID, peerID)
	messages, err := h.store.List(r.Context(), key, before, limit)
	if err != nil {
		h.log.Error("list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Send is the synchronous REST fallback: no optimistic copy, no retry, the
// stored message comes back in the response. Real-time surfaces use the
// WebSocket path instead.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	peerID, err := uuid.Parse(r.PathValue("peer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PEER", "Invalid peer ID")
		return
	}

	var input struct {
		Body       string             `json:"body"`
		Kind       domain.MessageKind `json:"kind"`
		StudentID  *uuid.UUID         `json:"student_id,omitempty"`
		Attachment *domain.Attachment `json:"attachment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if input.Kind == "" {
		input.Kind = domain.KindText
	}

	draft := domain.Draft{
		SenderID:   userID,
		ReceiverID: peerID,
		StudentID:  input.StudentID,
		Body:       input.Body,
		Kind:       input.Kind,
		Attachment: input.Attachment,
	}
	if verrs := validator.ValidateDraft(draft); verrs.HasErrors() {
		writeValidationErrors(w, verrs)
		return
	}

	msg, err := h.store.Create(r.Context(), draft)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrValidation):
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, errs.ErrPermission):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "You cannot message this user")
		default:
			h.log.Error("send message", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead flags everything from {peer} as read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	peerID, err := uuid.Parse(r.PathValue("peer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PEER", "Invalid peer ID")
		return
	}

	updated, err := h.tracker.MarkRead(r.Context(), userID, peerID)
	if err != nil {
		h.log.Error("mark read", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

// MarkAllRead clears every unread conversation at once.
func (h *MessageHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	updated, err := h.tracker.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.log.Error("mark all read", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

// Unread returns per-peer unread counts for badge seeding.
func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	counts, err := h.store.CountUnread(r.Context(), userID)
	if err != nil {
		h.log.Error("count unread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	byPeer := make(map[string]int64, len(counts))
	var total int64
	for peer, n := range counts {
		byPeer[peer.String()] = n
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"by_peer": byPeer,
	})
}

// Delete removes one of the caller's own messages.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID")
		return
	}

	if err := h.store.Delete(r.Context(), id, userID); err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
		case errors.Is(err, errs.ErrPermission):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Only the sender can delete a message")
		default:
			h.log.Error("delete message", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, verrs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": verrs,
		},
	})
}
