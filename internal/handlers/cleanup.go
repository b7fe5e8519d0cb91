package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glotta/registrar/internal/middleware"
	"github.com/glotta/registrar/internal/services"
	"github.com/glotta/registrar/pkg/response"
)

type CleanupHandler struct {
	svc *services.CleanupService
}

func NewCleanupHandler(svc *services.CleanupService) (*CleanupHandler, error) {
	if svc == nil {
		return nil, errors.New("cleanup handler: service is required")
	}
	return &CleanupHandler{svc: svc}, nil
}

type requestCodeRequest struct {
	Email  string `json:"email" validate:"required,email,max=254"`
	Reason string `json:"reason" validate:"omitempty,oneof=orphaned_unverified orphaned_verified user_requested"`
}

// POST /api/v1/cleanup/request-code
func (h *CleanupHandler) RequestCode(c *gin.Context) {
	var body requestCodeRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.RequestCode(requestContext(c), services.RequestCodeInput{
		Email:         body.Email,
		Reason:        body.Reason,
		CorrelationID: middleware.CorrelationID(c),
		IPAddress:     c.ClientIP(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

type confirmCleanupRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// POST /api/v1/cleanup/confirm
// The response never distinguishes a wrong code from an expired one.
func (h *CleanupHandler) Confirm(c *gin.Context) {
	var body confirmCleanupRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.Confirm(requestContext(c), services.ConfirmInput{
		Email:         body.Email,
		Code:          body.Code,
		CorrelationID: middleware.CorrelationID(c),
		IPAddress:     c.ClientIP(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}
