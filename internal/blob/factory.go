package blob

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"

	"kittycore/internal/infra/blob/fs"
	memorystore "kittycore/internal/infra/blob/memory"
	s3store "kittycore/internal/infra/blob/s3"
)

// S3Config configures the S3 backend.
type S3Config = s3store.Config

// Config selects and parameterizes a blob backend.
//
//	KITTYCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	KITTYCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	KITTYCORE_BLOB_S3_*: see s3store.Config
type Config struct {
	Driver Driver   `env:"KITTYCORE_BLOB_DRIVER"  envDefault:"fs"`
	FSRoot string   `env:"KITTYCORE_BLOB_FS_ROOT" envDefault:"blobdata"`
	S3     S3Config `envPrefix:"KITTYCORE_BLOB_S3_"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Open constructs the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// OpenFromEnv combines LoadConfig and Open.
func OpenFromEnv(ctx context.Context) (Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg)
}

// NewFilesystem returns a store rooted at the given directory.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns a process-local store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns a store backed by an S3 compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3store.New(ctx, cfg)
}

// NewMockS3ForTests returns an S3 store wired to an in-process fake endpoint.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
