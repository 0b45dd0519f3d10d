// Package platform assembles the backends selected by configuration: the
// document store stack, the asset store and the token verifier.
package platform

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/auth"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/ikkim/cartsync/pkg/redis"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

// Stores is the document store stack with its teardown.
type Stores struct {
	Store   docstore.Store
	closers []func()
}

// Close tears the stack down in reverse order of construction.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *Stores) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// BuildStore opens the configured document store. The gorm backend gets a
// change broker, relayed over Redis when enabled. Either backend may be
// wrapped in a circuit breaker.
func BuildStore(ctx context.Context, cfg *config.Config, conn *gorm.DB) (*Stores, error) {
	stores := &Stores{}

	switch cfg.Store.Backend {
	case "firestore":
		client, err := docstore.NewFirestoreClient(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
		if err != nil {
			return nil, err
		}
		stores.onClose(func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close firestore client", map[string]interface{}{
					"error": err.Error(),
				})
			}
		})
		stores.Store = docstore.NewFirestoreStore(client, cfg.Store.MaxAttempts)
		if cfg.Redis.Enabled {
			logger.Warn("Redis relay ignored, firestore pushes changes itself", nil)
		}

	default:
		if conn == nil {
			return nil, fmt.Errorf("gorm store requires a database connection")
		}
		broker := docstore.NewBroker()
		go broker.Run()
		stores.onClose(broker.Stop)

		if cfg.Redis.Enabled {
			if err := redis.Init(&cfg.Redis); err != nil {
				stores.Close()
				return nil, err
			}
			stores.onClose(func() { _ = redis.Close() })

			relay := docstore.NewRedisRelay(redis.GetClient(), broker, cfg.Redis.Channel)
			if err := relay.Start(ctx); err != nil {
				stores.Close()
				return nil, err
			}
			stores.onClose(relay.Stop)
		}
		stores.Store = docstore.NewGormStore(conn, broker, cfg.Store.MaxAttempts)
	}

	if cfg.Store.BreakerEnabled {
		stores.Store = docstore.NewBreakerStore(stores.Store, docstore.BreakerSettings{
			Name:         "docstore-" + cfg.Store.Backend,
			MinRequests:  cfg.Store.BreakerMinCalls,
			FailureRatio: cfg.Store.BreakerFailRatio,
			OpenTimeout:  cfg.Store.BreakerTimeout,
		})
	}

	logger.Info("Document store ready", map[string]interface{}{
		"backend": cfg.Store.Backend,
		"relay":   cfg.Redis.Enabled && cfg.Store.Backend != "firestore",
		"breaker": cfg.Store.BreakerEnabled,
	})
	return stores, nil
}

// Assets is the configured asset store. S3 is set only for the s3 backend,
// which also serves presigned uploads.
type Assets struct {
	Store storage.AssetStore
	S3    *storage.S3Storage
	close func()
}

func (a *Assets) Close() {
	if a.close != nil {
		a.close()
	}
}

func BuildAssets(ctx context.Context, cfg *config.Config) (*Assets, error) {
	switch cfg.Assets.Backend {
	case "s3":
		s3 := storage.NewS3Storage(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, cfg.S3.BaseURL)
		return &Assets{Store: s3, S3: s3}, nil

	case "gcs":
		var opts []option.ClientOption
		if cfg.Firestore.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		return &Assets{
			Store: storage.NewGCSStorage(client, cfg.GCS.Bucket, cfg.GCS.BaseURL),
			close: func() { _ = client.Close() },
		}, nil

	default:
		logger.Warn("Using in-memory asset storage, images are lost on restart", nil)
		return &Assets{Store: storage.NewMemoryStorage()}, nil
	}
}

// BuildVerifier returns the Firebase verifier when enabled and the local JWT
// verifier otherwise.
func BuildVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	if cfg.Firebase.AuthEnabled {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return verifier, nil
	}
	return auth.NewJWTVerifier(cfg.JWT.Secret), nil
}
