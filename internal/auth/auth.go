// internal/auth/auth.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Annany2002/nebula-gateway/api/models"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/logger"
)

const tokenIssuer = "nebula-gateway"

var (
	ErrTokenMalformed          = &core.Error{Kind: core.ErrUnauthenticated, Message: "Invalid or malformed authentication token."}
	ErrTokenExpired            = &core.Error{Kind: core.ErrUnauthenticated, Message: "Authentication token has expired."}
	ErrTokenInvalid            = &core.Error{Kind: core.ErrUnauthenticated, Message: "Invalid or malformed authentication token."}
	ErrTokenClaimsInvalid      = &core.Error{Kind: core.ErrUnauthenticated, Message: "Invalid token claims."}
	ErrUnexpectedSigningMethod = &core.Error{Kind: core.ErrUnauthenticated, Message: "Unexpected token signing method."}
	ErrInvalidCredentials      = &core.Error{Kind: core.ErrUnauthenticated, Message: "Invalid credentials"}
	customLog                  = logger.NewLogger()
)

// --- Password Utilities ---

// HashPassword generates a bcrypt hash for the given password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		customLog.Warnf("Error generating bcrypt hash: %v", err)
		return "", fmt.Errorf("failed to hash password")
	}
	return string(bytes), nil
}

// CheckPasswordHash compares a plaintext password with a stored bcrypt hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		customLog.Warnf("Unexpected error comparing password hash: %v", err)
	}
	return err == nil
}

// --- Internal Session Tokens ---

// GenerateJWT creates a signed internal session token for an admin user.
func GenerateJWT(userID int64, jwtSecret string, jwtExpiration time.Duration) (string, error) {
	now := time.Now()
	claims := models.CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		customLog.Warnf("Error signing JWT for admin %d: %v", userID, err)
		return "", fmt.Errorf("failed to generate token")
	}
	return signedToken, nil
}

// ValidateJWT parses and validates a session token, returning the admin user id.
func ValidateJWT(tokenString, jwtSecret string) (int64, error) {
	claims := &models.CustomClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			customLog.Warnf("ValidateJWT: Unexpected signing method: %v", token.Header["alg"])
			return nil, ErrUnexpectedSigningMethod
		}
		return []byte(jwtSecret), nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		customLog.Debugf("ValidateJWT: Token parsing error: %v", err)
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return 0, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return 0, ErrTokenExpired
		case errors.Is(err, ErrUnexpectedSigningMethod):
			return 0, ErrUnexpectedSigningMethod
		default:
			return 0, ErrTokenInvalid
		}
	}

	if !token.Valid {
		return 0, ErrTokenInvalid
	}
	if claims.UserID <= 0 {
		customLog.Warnf("ValidateJWT: UserID missing or invalid in token claims")
		return 0, ErrTokenClaimsInvalid
	}
	return claims.UserID, nil
}
