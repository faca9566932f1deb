package notification

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/handler"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/monitoring"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/notification"
)

type Handler struct {
	service    notification.Service
	aggregator *monitoring.Aggregator
}

func NewHandler(service notification.Service, aggregator *monitoring.Aggregator) *Handler {
	return &Handler{
		service:    service,
		aggregator: aggregator,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", h.Create)
		notifications.GET("/stats", h.Stats)
		notifications.GET("/:id", h.Get)
		notifications.POST("/:id/cancel", h.Cancel)
	}
}

type createRequest struct {
	UserID         *uuid.UUID             `json:"user_id"`
	Phone          string                 `json:"phone" binding:"required"`
	SourceApp      string                 `json:"source_app" binding:"required"`
	Kind           string                 `json:"kind" binding:"required"`
	Category       string                 `json:"category"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body" binding:"required"`
	Priority       int                    `json:"priority" binding:"omitempty,min=1,max=5"`
	MaxAttempts    int                    `json:"max_attempts" binding:"omitempty,min=1,max=10"`
	SenderRole     *string                `json:"sender_role"`
	RegionOverride *string                `json:"region_override"`
	ContextData    map[string]interface{} `json:"context_data"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	attempt, err := h.service.Create(c.Request.Context(), notification.CreateRequest{
		UserID:         req.UserID,
		Phone:          req.Phone,
		SourceApp:      model.SourceApp(req.SourceApp),
		Kind:           model.MessageKind(req.Kind),
		Category:       req.Category,
		Title:          req.Title,
		Body:           req.Body,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		SenderRole:     req.SenderRole,
		RegionOverride: req.RegionOverride,
		ContextData:    model.JSONMap(req.ContextData),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(attempt))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid notification id"))
		return
	}

	attempt, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("notification not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(attempt))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid notification id"))
		return
	}

	attempt, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("notification not found"))
		case errors.Is(err, model.ErrInvalidTransition):
			c.JSON(http.StatusConflict, handler.NewErrorResponse("notification is already terminal"))
		default:
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(attempt))
}

func (h *Handler) Stats(c *gin.Context) {
	var filter repository.StatsFilter

	if app := c.Query("source_app"); app != "" {
		sourceApp := model.SourceApp(app)
		filter.SourceApp = &sourceApp
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid since timestamp"))
			return
		}
		filter.Since = &t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid until timestamp"))
			return
		}
		filter.Until = &t
	}

	stats, err := h.aggregator.Stats(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
