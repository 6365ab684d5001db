package middleware

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/auth"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

// APIKeyHeader carries the gateway credential of external callers.
const APIKeyHeader = "X-API-KEY"

// keyLookups collapses concurrent lookups of the same key hash into one query.
var keyLookups singleflight.Group

var (
	errCredentialsRequired = core.Errorf(core.ErrUnauthenticated, "API key required")
	errInactiveKey         = core.Errorf(core.ErrForbidden, "API key is inactive")
)

// GatewayAuth authenticates a request by X-API-KEY, or by a Bearer session
// token of an admin user, and stores the resulting Principal in the request
// context.
func GatewayAuth(metaDB *sql.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := c.ClientIP()

		var (
			principal *auth.Principal
			err       error
		)
		if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" {
			principal, err = authenticateAPIKey(ctx, metaDB, key, ip)
		} else if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			principal, err = authenticateSession(ctx, metaDB, cfg.JWTSecret, token, ip)
		} else {
			err = errCredentialsRequired
		}
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(auth.WithPrincipal(ctx, principal))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

const keyLookupTimeout = 5 * time.Second

func authenticateAPIKey(ctx context.Context, metaDB *sql.DB, key, ip string) (*auth.Principal, error) {
	hash := auth.HashAPIKey(key)
	// The shared lookup must not fail for every waiter when the first caller
	// goes away.
	v, err, _ := keyLookups.Do(hash, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyLookupTimeout)
		defer cancel()
		return storage.FindAPIKeyByHash(lookupCtx, metaDB, hash)
	})
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			customLog.WithFields(logrus.Fields{"reason": "invalid_key", "client_ip": ip}).
				Warn("GatewayAuth: Unknown API key")
		}
		return nil, err
	}
	apiKey := *v.(*domain.APIKey)
	if !apiKey.IsActive {
		customLog.WithFields(logrus.Fields{"reason": "inactive_key", "api_key_id": apiKey.ID, "client_ip": ip}).
			Warn("GatewayAuth: Inactive API key")
		return nil, errInactiveKey
	}
	return &auth.Principal{APIKey: &apiKey, ClientIP: ip}, nil
}

func authenticateSession(ctx context.Context, metaDB *sql.DB, secret, token, ip string) (*auth.Principal, error) {
	userID, err := auth.ValidateJWT(token, secret)
	if err != nil {
		customLog.Debugf("GatewayAuth: Token validation failed: %v", err)
		return nil, err
	}
	admin, err := storage.FindAdminUserByID(ctx, metaDB, userID)
	if err != nil {
		return nil, err
	}
	if !admin.IsActive {
		return nil, auth.ErrInvalidCredentials
	}
	return &auth.Principal{AdminUserID: admin.ID, ClientIP: ip}, nil
}

// RequestTimeout bounds every downstream call of a request through its context.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
