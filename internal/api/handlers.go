package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hrkit/schedmsg/internal/model"
	"github.com/hrkit/schedmsg/internal/service"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.svc.PollerRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.svc.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.svc.PollerRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.svc.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.svc.PollerRunning()})
}

type createRequest struct {
	SenderKind string         `json:"senderKind"`
	SenderID   string         `json:"senderId"`
	SenderName string         `json:"senderName"`

	ChannelID string `json:"channelId"`
	RoomID    string `json:"roomId"`
	ThreadID  string `json:"threadId"`

	Content string         `json:"content"`
	Kind    string         `json:"kind"`
	File    *model.FileRef `json:"file"`

	ScheduledAt       *time.Time `json:"scheduledAt"`
	Timezone          string     `json:"timezone"`
	IsRecurring       bool       `json:"isRecurring"`
	RecurrencePattern string     `json:"recurrencePattern"`
	RecurrenceEndAt   *time.Time `json:"recurrenceEndAt"`
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	params := service.ScheduleParams{
		SenderKind:        model.SenderKind(req.SenderKind),
		SenderID:          req.SenderID,
		SenderName:        req.SenderName,
		ChannelID:         req.ChannelID,
		RoomID:            req.RoomID,
		ThreadID:          req.ThreadID,
		Content:           req.Content,
		Kind:              model.MessageKind(req.Kind),
		File:              req.File,
		Timezone:          req.Timezone,
		IsRecurring:       req.IsRecurring,
		RecurrencePattern: model.RecurrencePattern(req.RecurrencePattern),
		RecurrenceEndAt:   req.RecurrenceEndAt,
	}
	if req.ScheduledAt != nil {
		params.ScheduledAt = *req.ScheduledAt
	}

	m, err := h.svc.Schedule(r.Context(), params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project(m))
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := model.SenderKind(q.Get("senderKind"))
	senderID := q.Get("senderId")
	includeCompleted := q.Get("includeCompleted") == "true"

	items, err := h.svc.ListForOwner(r.Context(), kind, senderID, includeCompleted)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]projection, 0, len(items))
	for i := range items {
		out = append(out, project(&items[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(r.Context(), r.PathValue("id"), r.URL.Query().Get("senderId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project(m))
}

type updateRequest struct {
	SenderID string `json:"senderId"`

	Content            *string    `json:"content"`
	ScheduledAt        *time.Time `json:"scheduledAt"`
	IsRecurring        *bool      `json:"isRecurring"`
	RecurrencePattern  *string    `json:"recurrencePattern"`
	RecurrenceEndAt    *time.Time `json:"recurrenceEndAt"`
	ClearRecurrenceEnd bool       `json:"clearRecurrenceEnd"`
}

func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	params := service.UpdateParams{
		Content:            req.Content,
		ScheduledAt:        req.ScheduledAt,
		IsRecurring:        req.IsRecurring,
		RecurrenceEndAt:    req.RecurrenceEndAt,
		ClearRecurrenceEnd: req.ClearRecurrenceEnd,
	}
	if req.RecurrencePattern != nil {
		p := model.RecurrencePattern(*req.RecurrencePattern)
		params.RecurrencePattern = &p
	}

	m, err := h.svc.Update(r.Context(), r.PathValue("id"), req.SenderID, params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project(m))
}

func (h *Handler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	applied, err := h.svc.Cancel(r.Context(), r.PathValue("id"), r.URL.Query().Get("senderId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{"cancelled": applied}
	if !applied {
		resp["reason"] = "already processed"
	}
	writeJSON(w, http.StatusOK, resp)
}

// projection is the public shape of a record; tenant internals stay hidden.
type projection struct {
	ID                 string         `json:"id"`
	SenderKind         string         `json:"senderKind"`
	SenderID           string         `json:"senderId"`
	SenderName         string         `json:"senderName"`
	ChannelID          string         `json:"channelId,omitempty"`
	RoomID             string         `json:"roomId,omitempty"`
	ThreadID           string         `json:"threadId,omitempty"`
	Content            string         `json:"content"`
	Kind               string         `json:"kind"`
	File               *model.FileRef `json:"file,omitempty"`
	ScheduledAt        time.Time      `json:"scheduledAt"`
	Timezone           string         `json:"timezone"`
	IsRecurring        bool           `json:"isRecurring"`
	RecurrencePattern  string         `json:"recurrencePattern,omitempty"`
	RecurrenceEndAt    *time.Time     `json:"recurrenceEndAt,omitempty"`
	Status             string         `json:"status"`
	SentAt             *time.Time     `json:"sentAt,omitempty"`
	DeliveredMessageID *string        `json:"deliveredMessageId,omitempty"`
	LastError          *string        `json:"lastError,omitempty"`
	RetryCount         int            `json:"retryCount"`
	CreatedAt          time.Time      `json:"createdAt"`
}

func project(m *model.ScheduledMessage) projection {
	return projection{
		ID:                 m.ID,
		SenderKind:         string(m.SenderKind),
		SenderID:           m.SenderID,
		SenderName:         m.SenderName,
		ChannelID:          m.ChannelID,
		RoomID:             m.RoomID,
		ThreadID:           m.ThreadID,
		Content:            m.Content,
		Kind:               string(m.Kind),
		File:               m.File,
		ScheduledAt:        m.ScheduledAt,
		Timezone:           m.Timezone,
		IsRecurring:        m.IsRecurring,
		RecurrencePattern:  string(m.RecurrencePattern),
		RecurrenceEndAt:    m.RecurrenceEndAt,
		Status:             string(m.Status),
		SentAt:             m.SentAt,
		DeliveredMessageID: m.DeliveredMessageID,
		LastError:          m.LastError,
		RetryCount:         m.RetryCount,
		CreatedAt:          m.CreatedAt,
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "scheduled message not found")
	case errors.Is(err, service.ErrNotModifiable):
		writeError(w, http.StatusConflict, "scheduled message is no longer modifiable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
