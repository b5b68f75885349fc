package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	lms "github.com/lmsapp/lmsauth"
	"github.com/lmsapp/lmsauth/stores/fs"
	"github.com/lmsapp/lmsauth/stores/gae"
	gormstore "github.com/lmsapp/lmsauth/stores/gorm"
)

// backend is the set of server stores plus whatever holds them open
type backend struct {
	Users         lms.UserStore
	RefreshTokens lms.RefreshTokenStore
	ResetCodes    lms.ResetCodeStore
	close         func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func openBackend(ctx context.Context, cfg *Config) (*backend, error) {
	switch cfg.Store {
	case "fs":
		s := fs.New(cfg.DataDir)
		return &backend{Users: s.Users, RefreshTokens: s.RefreshTokens, ResetCodes: s.ResetCodes}, nil

	case "gorm":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Warn),
			TranslateError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return &backend{
			Users:         gormstore.NewUserStore(db),
			RefreshTokens: gormstore.NewRefreshTokenStore(db),
			ResetCodes:    gormstore.NewResetCodeStore(db),
			close:         sqlDB.Close,
		}, nil

	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("connecting to datastore: %w", err)
		}
		return &backend{
			Users:         gae.NewUserStore(client, cfg.Namespace),
			RefreshTokens: gae.NewRefreshTokenStore(client, cfg.Namespace),
			ResetCodes:    gae.NewResetCodeStore(client, cfg.Namespace),
			close:         client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// sweepExpiredTokens deletes expired refresh tokens every interval until ctx
// is done.
func sweepExpiredTokens(ctx context.Context, store lms.RefreshTokenStore, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.CleanupExpiredTokens(); err != nil {
				logger.WarnContext(ctx, "refresh token cleanup failed", "error", err)
				continue
			}
			logger.DebugContext(ctx, "expired refresh tokens removed")
		}
	}
}
