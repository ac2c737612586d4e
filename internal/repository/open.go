package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/config"
	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/storage"
	"github.com/cbnote/cbnote/internal/storage/local"
	s3backend "github.com/cbnote/cbnote/internal/storage/s3"
)

// Open builds the repository described by the host configuration.
func Open(ctx context.Context, cfg *config.HostConfig) (*Repository, error) {
	onDevice, err := local.New(local.Config{RootPath: cfg.DocumentsPath, CreateDirs: true})
	if err != nil {
		return nil, fmt.Errorf("open on-device root: %w", err)
	}

	cloud, err := newCloudBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cloud root: %w", err)
	}

	prefs, err := LoadPreferences(cfg.PreferencesPath)
	if err != nil {
		return nil, err
	}

	return New(Options{
		OnDevice:    onDevice,
		Cloud:       cloud,
		Preferences: prefs,
		NameFormat:  cfg.NameFormat,
	})
}

func newCloudBackend(ctx context.Context, cfg *config.HostConfig) (storage.Backend, error) {
	switch cfg.CloudBackend {
	case config.CloudNone, "":
		return nil, nil
	case config.CloudLocal:
		logging.Info("cloud root on local folder", zap.String("path", cfg.CloudDocumentsPath))
		return local.New(local.Config{RootPath: cfg.CloudDocumentsPath, CreateDirs: true})
	case config.CloudS3:
		logging.Info("cloud root on S3",
			zap.String("endpoint", cfg.S3Endpoint),
			zap.String("bucket", cfg.S3Bucket),
			zap.String("prefix", cfg.S3Prefix))
		return s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
	default:
		return nil, fmt.Errorf("unknown cloud backend %q", cfg.CloudBackend)
	}
}
