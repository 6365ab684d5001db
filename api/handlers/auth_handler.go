// api/handlers/auth_handler.go
package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Annany2002/nebula-gateway/api/models"
	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/auth"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/logger"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

var (
	customLog = logger.NewLogger()
)

// AuthHandler issues internal session tokens to admin users.
type AuthHandler struct {
	DB  *sql.DB        // Metadata DB connection pool
	Cfg *config.Config // Application configuration
}

// NewAuthHandler creates a new AuthHandler with dependencies.
func NewAuthHandler(db *sql.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		DB:  db,
		Cfg: cfg,
	}
}

// Login handles admin login requests and issues a session JWT on success.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		customLog.Warnf("Login binding error: %v", err)
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			_ = c.Error(err)
			return
		}
		_ = c.Error(core.Wrap(core.ErrValidation, err, "Invalid JSON request body"))
		return
	}

	user, err := storage.FindAdminUser(c.Request.Context(), h.DB, req.Login)
	if err != nil {
		customLog.Warnf("Login failed for %s: %v", req.Login, err)
		_ = c.Error(err)
		return
	}

	if !user.IsActive || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		customLog.Warnf("Login attempt failed for %s: invalid password or inactive account", req.Login)
		_ = c.Error(auth.ErrInvalidCredentials)
		return
	}

	tokenString, err := auth.GenerateJWT(user.ID, h.Cfg.JWTSecret, h.Cfg.JWTExpiration)
	if err != nil {
		customLog.Warnf("Failed to generate JWT for admin %d: %v", user.ID, err)
		_ = c.Error(err)
		return
	}

	customLog.Printf("Admin %s logged in", user.Username)
	c.JSON(http.StatusOK, models.LoginResponse{
		Message:   "Logged in successfully",
		Token:     tokenString,
		ExpiresIn: int64(h.Cfg.JWTExpiration.Seconds()),
	})
}
