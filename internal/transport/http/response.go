package httptransport

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID carries the correlation id in both directions.
	HeaderRequestID = "X-Request-ID"
	requestIDKey    = "sunforge.request_id"
	maxRequestIDLen = 64
)

// APIResponse is the envelope used by the telemetry and system endpoints.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestID returns the id assigned by requestIDMiddleware, minting one when
// the handler runs outside the router (tests, ad-hoc engines).
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	id := uuid.NewString()
	c.Set(requestIDKey, id)
	return id
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func envelope(c *gin.Context, ok bool, status int, data any, message string) APIResponse {
	resp := APIResponse{Success: ok, Data: data, Message: message, Code: status}
	if v, exists := c.Get(requestIDKey); exists {
		resp.RequestID, _ = v.(string)
	}
	return resp
}

func RespondSuccess(c *gin.Context, httpStatus int, data any, message string) {
	if message == "" {
		message = "ok"
	}
	c.JSON(httpStatus, envelope(c, true, httpStatus, data, message))
}

func RespondError(c *gin.Context, httpStatus int, message string, data any) {
	c.AbortWithStatusJSON(httpStatus, envelope(c, false, httpStatus, data, message))
}
