package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/librify/librify-api/internal/middleware"
	"github.com/librify/librify-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.SessionClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// queryDate parses a YYYY-MM-DD query parameter. A missing parameter returns
// nil without error.
func queryDate(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
