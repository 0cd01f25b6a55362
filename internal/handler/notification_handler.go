package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/scm-platform/notification-service/internal/domain"
	"github.com/scm-platform/notification-service/internal/repository"
	"github.com/scm-platform/notification-service/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Trigger(ctx context.Context, req service.TriggerRequest) (*service.TriggerResponse, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetAuditTrail(ctx context.Context, id string) ([]domain.AuditLogEntry, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.TriggerNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/audit", h.GetAuditTrail)
	v1.Get("/notifications", h.ListNotifications)

	return nil
}

type triggerRequest struct {
	Channel   string  `json:"channel"`
	Recipient string  `json:"recipient"`
	Subject   *string `json:"subject,omitempty"`
	Content   string  `json:"content"`
}

type triggerResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type notificationResponse struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	Recipient    string    `json:"recipient"`
	Subject      *string   `json:"subject,omitempty"`
	Content      string    `json:"content"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

type auditEntryResponse struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notificationId"`
	Status         string    `json:"status"`
	Details        string    `json:"details"`
	Timestamp      time.Time `json:"timestamp"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) TriggerNotification(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}

	resp, err := h.service.Trigger(c.Context(), service.TriggerRequest{
		Channel:   channel,
		Recipient: strings.TrimSpace(req.Recipient),
		Subject:   req.Subject,
		Content:   strings.TrimSpace(req.Content),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(triggerResponse{
		ID:      resp.ID,
		Status:  resp.Status,
		Message: resp.Message,
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) GetAuditTrail(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	entries, err := h.service.GetAuditTrail(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, auditEntryResponse{
			ID:             entry.ID,
			NotificationID: entry.NotificationID,
			Status:         entry.Status,
			Details:        entry.Details,
			Timestamp:      entry.Timestamp,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"entries":        responses,
	})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: responses,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:           n.ID,
		Channel:      n.Channel.String(),
		Recipient:    n.Recipient,
		Subject:      n.Subject,
		Content:      n.Content,
		Status:       n.Status.String(),
		RetryCount:   n.RetryCount,
		ErrorMessage: n.ErrorMessage,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
