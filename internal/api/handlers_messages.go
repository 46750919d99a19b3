package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkarlsen/sendlater/internal/models"
	"github.com/mkarlsen/sendlater/internal/storage"
)

type MessageHandler struct {
	store storage.Storage
}

func NewMessageHandler(store storage.Storage) *MessageHandler {
	return &MessageHandler{store: store}
}

type createMessageRequest struct {
	RecipientID   string                 `json:"recipient_id"`
	Platform      string                 `json:"platform"`
	Content       string                 `json:"content"`
	Parameters    map[string]string      `json:"parameters,omitempty"`
	ScheduledTime *time.Time             `json:"scheduled_time,omitempty"`
	Recurrence    *models.RecurrenceRule `json:"recurrence,omitempty"`
}

func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RecipientID == "" {
		writeError(w, http.StatusBadRequest, "recipient_id is required")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if err := req.Recurrence.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	scheduled := now
	if req.ScheduledTime != nil {
		scheduled = req.ScheduledTime.UTC()
	}

	msg := &models.ScheduledMessage{
		ID:            models.NewID("msg"),
		RecipientID:   req.RecipientID,
		Platform:      platform,
		Content:       req.Content,
		Parameters:    req.Parameters,
		ScheduledTime: scheduled,
		Recurrence:    req.Recurrence,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.CreateMessage(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	f := storage.ListFilter{
		RecipientID: r.URL.Query().Get("recipient"),
		Status:      models.Status(r.URL.Query().Get("status")),
		Limit:       limit,
		Offset:      offset,
	}

	msgs, err := h.store.ListMessages(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []models.ScheduledMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		writeStorageError(w, err, "failed to get message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type updateMessageRequest struct {
	Content       *string           `json:"content,omitempty"`
	ScheduledTime *time.Time        `json:"scheduled_time,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == nil && req.ScheduledTime == nil && req.Parameters == nil {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	if req.Content != nil && *req.Content == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	upd := storage.MessageUpdate{
		Content:       req.Content,
		ScheduledTime: req.ScheduledTime,
		Parameters:    req.Parameters,
	}
	if err := h.store.UpdateMessage(r.Context(), id, upd); err != nil {
		writeStorageError(w, err, "failed to update message")
		return
	}

	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		writeStorageError(w, err, "failed to get message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.CancelMessage(r.Context(), id); err != nil {
		writeStorageError(w, err, "failed to cancel message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.StatusCancelled)})
}

func (h *MessageHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.MarkDueNow(r.Context(), id, time.Now().UTC()); err != nil {
		writeStorageError(w, err, "failed to mark message due")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.StatusPending)})
}

func (h *MessageHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	attempts, err := h.store.GetAttempts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get attempts")
		return
	}
	if attempts == nil {
		attempts = []models.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}
