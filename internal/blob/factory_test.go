package blob

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("KITTYCORE_BLOB_DRIVER", "s3")
	t.Setenv("KITTYCORE_BLOB_S3_BUCKET", "kitties")
	t.Setenv("KITTYCORE_BLOB_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("KITTYCORE_BLOB_S3_PATH_STYLE", "true")
	t.Setenv("KITTYCORE_BLOB_S3_ACCESS_KEY_ID", "id")
	t.Setenv("KITTYCORE_BLOB_S3_SECRET_ACCESS_KEY", "secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Driver != DriverS3 || cfg.FSRoot != "blobdata" {
		t.Fatalf("unexpected top-level config %+v", cfg)
	}
	s3 := cfg.S3
	if s3.Bucket != "kitties" || s3.Region != "us-east-1" || s3.Endpoint != "http://minio:9000" || !s3.PathStyle {
		t.Fatalf("unexpected s3 config %+v", s3)
	}
	if s3.AccessKeyID != "id" || s3.SecretAccessKey != "secret" {
		t.Fatalf("static credentials not read: %+v", s3)
	}
}

func TestLoadConfigRejectsMalformedBool(t *testing.T) {
	t.Setenv("KITTYCORE_BLOB_S3_PATH_STYLE", "sometimes")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("want parse error, got %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "blobs")
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{Driver: DriverFilesystem, FSRoot: root}, DriverFilesystem},
		{Config{FSRoot: root}, DriverFilesystem},
		{Config{Driver: DriverMemory}, DriverMemory},
		{Config{Driver: DriverS3, S3: S3Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret"}}, DriverS3},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %+v: %v", tc.cfg, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("want %s, got %s", tc.want, store.Driver())
		}
	}
	if _, err := Open(ctx, Config{Driver: "gcs"}); err == nil {
		t.Fatalf("unknown driver accepted")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("s3 without bucket accepted")
	}
}

func TestOpenFromEnvMemory(t *testing.T) {
	t.Setenv("KITTYCORE_BLOB_DRIVER", "memory")
	store, err := OpenFromEnv(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("want memory driver, got %s", store.Driver())
	}
}

// Every backend honours the same create-only and not-found contract.
func TestBackendsShareContract(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	for _, store := range []Store{fsStore, NewMemory(), NewMockS3ForTests()} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			if _, err := store.Put(ctx, "snapshots/x", bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := store.Put(ctx, "snapshots/x", bytes.NewReader([]byte("y")), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("want ErrExists, got %v", err)
			}
			if _, err := store.Head(ctx, "snapshots/missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}
			list, err := store.List(ctx, "snapshots/")
			if err != nil || len(list) != 1 {
				t.Fatalf("list: %v %+v", err, list)
			}
		})
	}
}
