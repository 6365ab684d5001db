// api/services.go
package api

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/adapter"
	"github.com/Annany2002/nebula-gateway/internal/ratelimit"
	"github.com/Annany2002/nebula-gateway/internal/upload"
)

// Services holds the long-lived collaborators shared by all requests.
type Services struct {
	Adapters *adapter.Manager
	Limiter  *ratelimit.Limiter
	Uploads  *upload.Pipeline

	valkey valkey.Client
}

// NewServices builds the adapter pool, quota store and upload pipeline
// selected by cfg.
func NewServices(ctx context.Context, metaDB *sql.DB, cfg *config.Config) (*Services, error) {
	svc := &Services{
		Adapters: adapter.NewManager(adapter.PoolOptions{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		}),
	}
	if cfg.RequestTimeout > 0 {
		svc.Adapters.WithRetireDelay(2 * cfg.RequestTimeout)
	}

	var store ratelimit.Store
	switch cfg.RateLimitBackend {
	case "valkey":
		client, err := ratelimit.NewValkeyClient(cfg.ValkeyAddr, cfg.ValkeyUsername, cfg.ValkeyPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		svc.valkey = client
		store = ratelimit.NewValkeyStore(client)
	default:
		store = ratelimit.NewSQLStore(metaDB)
	}
	svc.Limiter = ratelimit.NewLimiter(store, cfg.RateLimitWindow)

	var files upload.Storage
	switch cfg.UploadBackend {
	case "s3":
		s3Storage, err := upload.NewS3Storage(ctx, upload.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("failed to configure s3 uploads: %w", err)
		}
		files = s3Storage
	default:
		files = upload.NewLocalStorage(cfg.UploadDir, cfg.UploadPublicURL)
	}
	svc.Uploads = upload.NewPipeline(files, cfg.UploadAllowedExtensions, cfg.UploadMaxBytes)

	return svc, nil
}

// Close releases pooled connections.
func (s *Services) Close() error {
	if s.valkey != nil {
		s.valkey.Close()
	}
	if s.Adapters == nil {
		return nil
	}
	return s.Adapters.Close()
}
