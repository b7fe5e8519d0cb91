package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glotta/registrar/internal/middleware"
	"github.com/glotta/registrar/internal/services"
	"github.com/glotta/registrar/pkg/response"
)

type EmailStatusHandler struct {
	svc *services.EmailStatusService
}

func NewEmailStatusHandler(svc *services.EmailStatusService) (*EmailStatusHandler, error) {
	if svc == nil {
		return nil, errors.New("email status handler: service is required")
	}
	return &EmailStatusHandler{svc: svc}, nil
}

type emailStatusRequest struct {
	Email     string `json:"email" validate:"required,max=254"`
	AttemptID string `json:"attempt_id" validate:"omitempty,uuid4"`
}

// POST /api/v1/email-status
func (h *EmailStatusHandler) Check(c *gin.Context) {
	var body emailStatusRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.Check(requestContext(c), services.EmailStatusInput{
		Email:         body.Email,
		AttemptID:     body.AttemptID,
		CorrelationID: middleware.CorrelationID(c),
		IPAddress:     c.ClientIP(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GET|HEAD /api/v1/email-status — lightweight liveness probe for clients
// that only need to know the route is reachable.
func (h *EmailStatusHandler) Liveness(c *gin.Context) {
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}
