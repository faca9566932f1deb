package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/handler"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/reconciler"
)

type Handler struct {
	reconciler *reconciler.Reconciler
}

func NewHandler(rec *reconciler.Reconciler) *Handler {
	return &Handler{reconciler: rec}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/wachap", h.Ingest)
	}
}

type webhookPayload struct {
	MessageID string `json:"message_id" binding:"required"`
	Event     string `json:"event"`
	Status    string `json:"status"`
}

// Ingest acknowledges provider callbacks with fire-and-forget semantics: the
// provider gets a 200 as soon as the event is persisted, regardless of
// whether it matched an attempt.
func (h *Handler) Ingest(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("unreadable payload"))
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == "" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid webhook payload"))
		return
	}

	err = h.reconciler.Ingest(c.Request.Context(), reconciler.Callback{
		ProviderMessageID: payload.MessageID,
		Kind:              kindFromEvent(payload.Event),
		Status:            payload.Status,
		Payload:           json.RawMessage(raw),
	})
	if err != nil {
		// Persisting the audit row failed; the provider should redeliver.
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func kindFromEvent(event string) model.WebhookKind {
	switch event {
	case "delivered", "delivery":
		return model.WebhookKindDelivery
	case "read":
		return model.WebhookKindRead
	}
	return model.WebhookKindOther
}
