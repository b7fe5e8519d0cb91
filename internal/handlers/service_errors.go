package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/glotta/registrar/internal/services"
	appErrors "github.com/glotta/registrar/pkg/errors"
	"github.com/glotta/registrar/pkg/response"
)

// writeServiceError maps service-layer failures onto the response envelope.
// Rate-limit denials gain Retry-After and RateLimit headers; anything without
// an explicit classification renders as a generic internal error so provider
// internals never leak to clients.
func writeServiceError(c *gin.Context, err error) {
	var limited *services.RateLimitedError
	if errors.As(err, &limited) {
		response.RateLimited(c, response.RateLimitInfo{
			Limit:      int(limited.Decision.Limit),
			Remaining:  int(limited.Decision.Remaining),
			RetryAfter: limited.Decision.RetryAfter,
		})
		return
	}

	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		response.Error(c, appErr)
		return
	}

	response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
}
