package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CorrelationHeader carries the caller-supplied request identifier. A missing
// header is replaced with a server-generated UUID so every audit row and log
// line can be tied back to one request.
const CorrelationHeader = "X-Correlation-Id"

const ctxCorrelationKey = "correlationID"

// Correlation ensures every request has a correlation ID and echoes it back.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationHeader))
		if id == "" || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}

		c.Set(ctxCorrelationKey, id)
		c.Header(CorrelationHeader, id)
		c.Next()
	}
}

// CorrelationID returns the request's correlation ID, if set.
func CorrelationID(c *gin.Context) string {
	value, ok := c.Get(ctxCorrelationKey)
	if !ok {
		return ""
	}
	id, _ := value.(string)
	return id
}
