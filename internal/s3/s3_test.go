package s3

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func newClient(t *testing.T) *minio.Client {
	t.Helper()
	mc, err := minio.New("localhost:9000", &minio.Options{Creds: credentials.NewStaticV4("k", "s", ""), Secure: false, Region: "us-east-1"})
	if err != nil {
		t.Fatal(err)
	}
	return mc
}

func TestPresignGetTTL(t *testing.T) {
	svc := Service{Client: newClient(t), Bucket: "reports", MaxTTL: time.Minute}
	for _, ttl := range []time.Duration{0, 2 * time.Minute} {
		if _, err := svc.PresignGet(context.Background(), "snapshots/a.json", "", ttl); !errors.Is(err, ErrInvalidTTL) {
			t.Fatalf("ttl %s: expected ErrInvalidTTL, got %v", ttl, err)
		}
	}
	u, err := svc.PresignGet(context.Background(), "snapshots/a.json", "", 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	uu, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	if exp := uu.Query().Get("X-Amz-Expires"); exp != "30" {
		t.Fatalf("expected expires=30, got %s", exp)
	}
}

func TestPresignGetDisposition(t *testing.T) {
	svc := Service{Client: newClient(t), Bucket: "reports", MaxTTL: time.Minute}
	u, err := svc.PresignGet(context.Background(), "snapshots/a.json", "relatorio-2024-07.json", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	uu, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	if cd := uu.Query().Get("response-content-disposition"); cd != `attachment; filename="relatorio-2024-07.json"` {
		t.Fatalf("unexpected content-disposition %s", cd)
	}
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"snapshots/2024/07/a.json", true},
		{"a.json", true},
		{"", false},
		{"/etc/passwd", false},
		{"../a.json", false},
		{"snapshots/../../a.json", false},
		{"snapshots//a.json", false},
		{`snapshots\a.json`, false},
	}
	for _, tt := range tests {
		if err := ValidKey(tt.key); (err == nil) != tt.ok {
			t.Errorf("ValidKey(%q) = %v, want ok=%v", tt.key, err, tt.ok)
		}
	}
}
