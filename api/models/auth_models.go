// api/models/auth_models.go
package models

import "github.com/golang-jwt/jwt/v5"

// --- Auth Request/Response Structs ---

// LoginRequest defines the structure for the admin login request body
type LoginRequest struct {
	Login    string `json:"login" binding:"required"` // username or email
	Password string `json:"password" binding:"required"`
}

// LoginResponse defines the structure for the login response body
type LoginResponse struct {
	Message   string `json:"message"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// --- JWT Claims ---

// CustomClaims includes standard claims and the admin user id of an internal session
type CustomClaims struct {
	UserID int64 `json:"userID"`
	jwt.RegisteredClaims
}
