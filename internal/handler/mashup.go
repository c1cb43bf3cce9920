package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/trackmash/api/internal/model"
	"github.com/trackmash/api/internal/service"
	"github.com/trackmash/api/pkg/response"
)

// Fallback bounds when pipeline config carries none.
const (
	defaultMaxItems       = 20
	defaultMaxClipSeconds = 90
)

// MashupService schedules mashup jobs and reports on them.
type MashupService interface {
	Submit(ctx context.Context, req *model.MashupRequest) (*model.MashupSubmitResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.MashupStatusResponse, error)
	GetResult(ctx context.Context, jobID string) (*model.MashupResult, error)
}

type MashupHandler struct {
	service        MashupService
	validator      *validator.Validate
	maxItems       int
	maxClipSeconds int
}

func NewMashupHandler(svc MashupService, v *validator.Validate, maxItems, maxClipSeconds int) *MashupHandler {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	if maxClipSeconds <= 0 {
		maxClipSeconds = defaultMaxClipSeconds
	}
	return &MashupHandler{
		service:        svc,
		validator:      v,
		maxItems:       maxItems,
		maxClipSeconds: maxClipSeconds,
	}
}

// Submit handles POST /api/mashup
func (h *MashupHandler) Submit(c *fiber.Ctx) error {
	var req model.MashupRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if details := h.checkBounds(&req); details != nil {
		return response.ValidationError(c, "Validation failed", details)
	}

	result, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, "Could not accept mashup request")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/mashup/status/:jobId
func (h *MashupHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Could not load job status")
	}

	return response.OK(c, result)
}

// Result handles GET /api/mashup/result/:jobId
func (h *MashupHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.ValidationError(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, "Could not load job result")
	}

	return response.OK(c, result)
}

// checkBounds enforces the configured upper limits. Details use the same
// field-to-constraint shape as formatValidationErrors.
func (h *MashupHandler) checkBounds(req *model.MashupRequest) map[string]string {
	details := make(map[string]string)
	if req.Count > h.maxItems {
		details["Count"] = fmt.Sprintf("max=%d", h.maxItems)
	}
	if req.ClipSeconds > h.maxClipSeconds {
		details["ClipSeconds"] = fmt.Sprintf("max=%d", h.maxClipSeconds)
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
