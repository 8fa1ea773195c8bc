package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/promptshelf/promptshelf-server/internal/config"
	"github.com/promptshelf/promptshelf-server/internal/logger"
	"github.com/promptshelf/promptshelf-server/internal/media/objects"
)

// ObjectStorage holds the configured payload backend. Handler is set only
// for backends the server itself serves.
type ObjectStorage struct {
	Store   objects.Store
	Handler http.Handler
	BaseURL string
}

// ProvideObjectStorage provides the filesystem or S3 object store.
func ProvideObjectStorage(i do.Injector) (*ObjectStorage, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	switch cfg.Objects.Backend {
	case "s3":
		s3, err := objects.NewS3(context.Background(), objects.S3Config{
			Bucket:          cfg.Objects.Bucket,
			Region:          cfg.Objects.Region,
			Endpoint:        cfg.Objects.Endpoint,
			Prefix:          cfg.Objects.Prefix,
			AccessKeyID:     cfg.Objects.AccessKeyID,
			SecretAccessKey: cfg.Objects.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 object store: %w", err)
		}
		log.Info("Object storage ready", "backend", "s3", "bucket", cfg.Objects.Bucket)
		return &ObjectStorage{Store: s3}, nil

	default:
		fs, err := objects.NewFS(cfg.Data.ObjectsPath(), cfg.Objects.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("filesystem object store: %w", err)
		}
		log.Info("Object storage ready", "backend", "fs", "path", cfg.Data.ObjectsPath())
		return &ObjectStorage{Store: fs, Handler: fs.Handler(), BaseURL: cfg.Objects.BaseURL}, nil
	}
}
