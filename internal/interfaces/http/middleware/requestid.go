package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/turtacn/LexNER/pkg/types/common"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLength bounds client-supplied IDs before they reach logs.
const maxRequestIDLength = 128

// RequestID assigns every request an ID, reusing the client's X-Request-ID
// when present, and stores it in both the gin and request contexts.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set(string(common.ContextKeyRequestID), id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), common.ContextKeyRequestID, id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID returns the ID assigned by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(string(common.ContextKeyRequestID))
}
