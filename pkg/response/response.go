package response

import (
	"net/http"
	"strconv"

	appErrors "github.com/glotta/registrar/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Response defines the base API payload. Exactly one of Data or Error is set.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Meta  *Meta       `json:"meta,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
}

// Meta carries pagination details for list endpoints.
type Meta struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RateLimitInfo carries remaining-quota metadata rendered as RateLimit-*
// headers alongside a 429 response.
type RateLimitInfo struct {
	Limit      int
	Remaining  int
	RetryAfter int // seconds, ceiling of the remaining window
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Data: data})
}

// SuccessWithMeta writes a JSON success response with pagination metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data interface{}, meta *Meta) {
	c.JSON(statusCode, Response{Data: data, Meta: meta})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

// RateLimited writes a 429 response carrying Retry-After and RateLimit headers.
func RateLimited(c *gin.Context, info RateLimitInfo) {
	if info.RetryAfter < 1 {
		info.RetryAfter = 1
	}

	c.Header("Retry-After", strconv.Itoa(info.RetryAfter))
	c.Header("RateLimit-Limit", strconv.Itoa(info.Limit))
	c.Header("RateLimit-Remaining", strconv.Itoa(maxInt(0, info.Remaining)))
	c.Header("RateLimit-Reset", strconv.Itoa(info.RetryAfter))

	c.JSON(http.StatusTooManyRequests, Response{
		Error: &ErrorInfo{
			Code:    appErrors.ErrRateLimited.Code,
			Message: appErrors.ErrRateLimited.Message,
		},
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
