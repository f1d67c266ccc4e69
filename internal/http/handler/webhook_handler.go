package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/payments"
	"go.uber.org/zap"
)

// maxWebhookBytes bounds webhook payloads. Stripe events stay well below this.
const maxWebhookBytes = 512 << 10

// telegramSecretHeader carries the secret registered with setWebhook
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// EventParser authenticates and decodes a payment processor webhook
type EventParser interface {
	Parse(payload []byte, signatureHeader string) (*payments.InvoiceEvent, error)
}

// InvoiceEventHandler applies a verified invoice event
type InvoiceEventHandler interface {
	HandleEvent(ctx context.Context, event *payments.InvoiceEvent) (bool, error)
}

// UpdateHandler executes one Telegram update
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update *tgbotapi.Update) error
}

type WebhookHandler struct {
	parser         EventParser
	events         InvoiceEventHandler
	telegram       UpdateHandler
	telegramSecret string
	logger         *zap.Logger
}

// NewWebhookHandler wires the inbound webhooks. telegram may be nil when the bot is disabled.
func NewWebhookHandler(parser EventParser, events InvoiceEventHandler, telegram UpdateHandler, telegramSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		parser:         parser,
		events:         events,
		telegram:       telegram,
		telegramSecret: telegramSecret,
		logger:         logger.Named("webhooks"),
	}
}

// Stripe godoc
// @Summary Payment processor webhook
// @Description Receives signed invoice events. Unsupported event types are acknowledged and ignored.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} domain.WebhookAckDTO
// @Failure 400 {object} domain.APIError "Invalid signature or payload"
// @Failure 500 {object} domain.APIError "Processing failed; the processor will retry"
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Could not read request body")
		return
	}
	if len(payload) > maxWebhookBytes {
		respondWithError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	event, err := h.parser.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			h.logger.Warn("rejected webhook with invalid signature",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("payload_bytes", len(payload)))
			respondWithError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		h.logger.Warn("rejected malformed webhook", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "Malformed event")
		return
	}

	handled, err := h.events.HandleEvent(r.Context(), event)
	if err != nil {
		h.logger.Error("failed to apply webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Event processing failed")
		return
	}

	h.logger.Info("webhook processed",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Bool("handled", handled))

	respondJSON(w, http.StatusOK, domain.WebhookAckDTO{
		Received:  true,
		EventType: event.Type,
		Handled:   handled,
	})
}

// Telegram godoc
// @Summary Telegram bot webhook
// @Description Receives bot updates. Requests must carry the secret token configured with setWebhook.
// @Tags Webhooks
// @Accept json
// @Success 200
// @Failure 400 {object} domain.APIError
// @Failure 401 {object} domain.APIError
// @Failure 404 {object} domain.APIError "Bot disabled"
// @Router /webhooks/telegram [post]
func (h *WebhookHandler) Telegram(w http.ResponseWriter, r *http.Request) {
	if h.telegram == nil {
		respondWithError(w, http.StatusNotFound, "Telegram bot is disabled")
		return
	}

	token := r.Header.Get(telegramSecretHeader)
	if h.telegramSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.telegramSecret)) != 1 {
		h.logger.Warn("rejected telegram update with bad secret", zap.String("remote_addr", r.RemoteAddr))
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var update tgbotapi.Update
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid update")
		return
	}

	// Telegram redelivers on any non-2xx answer, so execution failures are
	// reported to the chat and the update is acknowledged
	if err := h.telegram.HandleUpdate(r.Context(), &update); err != nil {
		h.logger.Error("telegram update failed", zap.Int("update_id", update.UpdateID), zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}
