package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Login handles operator login
// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.service.Login(req)
	if err != nil {
		var authErr AuthError
		if errors.As(err, &authErr) {
			status := http.StatusUnauthorized
			switch authErr.Code {
			case ErrRateLimited.Code:
				status = http.StatusTooManyRequests
			case ErrNotConfigured.Code:
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "failed to log in",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Me returns the claims of the calling operator
// GET /api/auth/me
func (h *Handlers) Me(c *gin.Context) {
	claims := GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Code, "message": ErrUnauthorized.Message})
		return
	}
	c.JSON(http.StatusOK, claims)
}
