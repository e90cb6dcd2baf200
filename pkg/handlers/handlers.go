package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/alerts"
	"handoff-escalation-service/pkg/conversations"
	"handoff-escalation-service/pkg/ingest"
	"handoff-escalation-service/pkg/models"
)

// MerchantHeader carries the authenticated merchant id set by the gateway
const MerchantHeader = "X-Merchant-ID"

// MessageHandler runs a message through the handoff flow inline
type MessageHandler interface {
	Handle(ctx context.Context, event ingest.MessageEvent) (models.HandoffResult, error)
	Resolve(ctx context.Context, merchantID, conversationID int64) error
}

// EventPublisher queues a message for the stream consumer
type EventPublisher interface {
	Publish(ctx context.Context, event ingest.MessageEvent) (string, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

type Handler struct {
	alerts    alerts.Repository
	messages  MessageHandler
	publisher EventPublisher
	checks    map[string]HealthCheck
	logger    *logrus.Logger
}

// NewHandler builds the API handlers. A nil publisher processes messages
// inline; otherwise messages are queued and answered with 202.
func NewHandler(alertRepo alerts.Repository, messages MessageHandler, publisher EventPublisher, checks map[string]HealthCheck, logger *logrus.Logger) *Handler {
	return &Handler{
		alerts:    alertRepo,
		messages:  messages,
		publisher: publisher,
		checks:    checks,
		logger:    logger,
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).WithField("status", status).Debug("Failed to write response body")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func (h *Handler) writeAlertError(w http.ResponseWriter, err error, fields logrus.Fields) {
	var verr *alerts.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, verr.Code, verr.Error())
	case errors.Is(err, alerts.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Handoff alert not found")
	default:
		h.logger.WithError(err).WithFields(fields).Error("Handoff alert request failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func merchantID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(MerchantHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// requireMerchant rejects requests without a merchant identity
func (h *Handler) requireMerchant(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := merchantID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing_merchant", "A valid "+MerchantHeader+" header is required")
	}
	return id, ok
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	merchant, ok := h.requireMerchant(w, r)
	if !ok {
		return
	}

	query, err := alerts.ParseListQuery(r.URL.Query())
	if err != nil {
		h.writeAlertError(w, err, nil)
		return
	}

	result, err := h.alerts.List(r.Context(), merchant, query)
	if err != nil {
		h.writeAlertError(w, err, logrus.Fields{"merchant_id": merchant})
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	merchant, ok := h.requireMerchant(w, r)
	if !ok {
		return
	}

	count, err := h.alerts.UnreadCount(r.Context(), merchant)
	if err != nil {
		h.writeAlertError(w, err, logrus.Fields{"merchant_id": merchant})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"unread_count": count,
	})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	merchant, ok := h.requireMerchant(w, r)
	if !ok {
		return
	}

	alertID, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, alerts.CodeInvalidID, "Alert id must be a positive integer")
		return
	}

	if _, err := h.alerts.MarkRead(r.Context(), merchant, alertID); err != nil {
		h.writeAlertError(w, err, logrus.Fields{"merchant_id": merchant, "alert_id": alertID})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"alert_id": alertID,
	})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	merchant, ok := h.requireMerchant(w, r)
	if !ok {
		return
	}

	updated, err := h.alerts.MarkAllRead(r.Context(), merchant)
	if err != nil {
		h.writeAlertError(w, err, logrus.Fields{"merchant_id": merchant})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"updated_count": updated,
	})
}

type messageRequest struct {
	PlatformSenderID string    `json:"platform_sender_id"`
	CustomerName     *string   `json:"customer_name,omitempty"`
	CreatedAt        time.Time `json:"conversation_created_at,omitempty"`
	RecentMessages   []string  `json:"recent_messages"`
	models.Message
}

// IngestMessage feeds one customer message into the handoff flow
func (h *Handler) IngestMessage(w http.ResponseWriter, r *http.Request) {
	merchant, ok := h.requireMerchant(w, r)
	if !ok {
		return
	}

	conversationID, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_conversation_id", "Conversation id must be a positive integer")
		return
	}

	var request messageRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	event := ingest.MessageEvent{
		Conversation: models.Conversation{
			ID:               conversationID,
			MerchantID:       merchant,
			PlatformSenderID: request.PlatformSenderID,
			CustomerName:     request.CustomerName,
			CreatedAt:        request.CreatedAt,
			RecentMessages:   request.RecentMessages,
		},
		Message:    request.Message,
		ReceivedAt: time.Now().UTC(),
	}

	fields := logrus.Fields{
		"conversation_id": conversationID,
		"merchant_id":     merchant,
	}

	if h.publisher != nil {
		entryID, err := h.publisher.Publish(r.Context(), event)
		if err != nil {
			h.writeIngestError(w, err, fields)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted": true,
			"entry_id": entryID,
		})
		return
	}

	result, err := h.messages.Handle(r.Context(), event)
	if err != nil {
		h.writeIngestError(w, err, fields)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ResolveConversation closes a conversation and clears its detection state
func (h *Handler) ResolveConversation(w http.ResponseWriter, r *http.Request) {
	merchant, ok := h.requireMerchant(w, r)
	if !ok {
		return
	}

	conversationID, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_conversation_id", "Conversation id must be a positive integer")
		return
	}

	if err := h.messages.Resolve(r.Context(), merchant, conversationID); err != nil {
		h.writeIngestError(w, err, logrus.Fields{"conversation_id": conversationID, "merchant_id": merchant})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"conversation_id": conversationID,
	})
}

func (h *Handler) writeIngestError(w http.ResponseWriter, err error, fields logrus.Fields) {
	switch {
	case errors.Is(err, ingest.ErrInvalidEvent):
		h.writeError(w, http.StatusBadRequest, "invalid_message", err.Error())
	case errors.Is(err, conversations.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Conversation not found")
	default:
		h.logger.WithError(err).WithFields(fields).Error("Failed to process message")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":    state,
		"checks":    results,
		"timestamp": time.Now(),
	})
}
