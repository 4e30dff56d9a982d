package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"kittycore/internal/blob/core"
)

func TestMockedBasicFlow(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != core.DriverS3 || store.Bucket() != mockBucket {
		t.Fatalf("unexpected driver/bucket %s %s", store.Driver(), store.Bucket())
	}
	info, err := store.Put(ctx, "snapshots/a.json.zst", bytes.NewReader([]byte("hello")),
		core.PutOptions{ContentType: "application/zstd", Metadata: map[string]string{"kitties": "2"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "snapshots/a.json.zst" || info.ContentType != "application/zstd" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["kitties"] != "2" {
		t.Fatalf("metadata lost: %+v", info.Metadata)
	}
	if _, err := store.Put(ctx, "snapshots/a.json.zst", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("want ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "snapshots/a.json.zst")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", data)
	}
	u, err := store.PresignURL(ctx, "snapshots/a.json.zst", core.SignedURLOptions{})
	if err != nil || !strings.Contains(u, "snapshots/a.json.zst") || !strings.Contains(u, "X-Amz-Signature") {
		t.Fatalf("presign: %v %s", err, u)
	}
	if _, err := store.PresignURL(ctx, "snapshots/a.json.zst", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
	if ok, err := store.Delete(ctx, "snapshots/a.json.zst"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "snapshots/a.json.zst"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, err := store.Head(ctx, "snapshots/a.json.zst"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "snapshots/a.json.zst"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("empty key accepted")
	}
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	for i := 4; i >= 0; i-- {
		key := fmt.Sprintf("snapshots/%d", i)
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte{byte(i)}), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "elsewhere", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := store.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("want 5 keys across pages, got %d", len(list))
	}
	for i, info := range list {
		if info.Key != fmt.Sprintf("snapshots/%d", i) || info.Size != 1 {
			t.Fatalf("unexpected entry %d: %+v", i, info)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}); err == nil {
		t.Fatalf("missing bucket accepted")
	}
	if _, err := New(ctx, Config{Bucket: "b", AccessKeyID: "only-id"}); err == nil {
		t.Fatalf("half static credentials accepted")
	}
	s, err := New(ctx, Config{Bucket: "b", Endpoint: "https://minio.local", PathStyle: true, AccessKeyID: "id", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Bucket() != "b" {
		t.Fatalf("unexpected bucket %s", s.Bucket())
	}
}
