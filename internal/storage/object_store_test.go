package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MinioStore {
	t.Helper()
	store, err := NewMinioStore(MinioOptions{
		Endpoint:  "minio.local:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "evidence",
	})
	if err != nil {
		t.Fatalf("NewMinioStore: %v", err)
	}
	return store
}

func TestPresignPut(t *testing.T) {
	store := newTestStore(t)
	raw, err := store.PresignPut(context.Background(), "runs/r1/i1/photo.jpg", 10*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "minio.local:9000" {
		t.Errorf("host = %s", u.Host)
	}
	if !strings.HasSuffix(u.Path, "/evidence/runs/r1/i1/photo.jpg") {
		t.Errorf("path = %s", u.Path)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" {
		t.Error("missing signature")
	}
	if q.Get("X-Amz-Expires") != "600" {
		t.Errorf("X-Amz-Expires = %s, want 600", q.Get("X-Amz-Expires"))
	}
}

func TestPresignGet(t *testing.T) {
	store := newTestStore(t)
	raw, err := store.PresignGet(context.Background(), "runs/r1/i1/photo.jpg", time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.Contains(raw, "X-Amz-Signature=") {
		t.Errorf("url not signed: %s", raw)
	}
}

func TestNewMinioStoreRejectsBadEndpoint(t *testing.T) {
	if _, err := NewMinioStore(MinioOptions{Endpoint: "http://with-scheme:9000", Bucket: "b"}); err == nil {
		t.Fatal("expected error for endpoint with scheme")
	}
}
