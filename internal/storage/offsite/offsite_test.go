package offsite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 — минимальная имитация S3 (PUT, DELETE, ListObjectsV2) без сети.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]int
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// path-style: /bucket/key
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, f.objects[k])
		}
		b.WriteString("</ListBucketResult>")
		return response(http.StatusOK, b.String()), nil

	case req.Method == http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = len(body)
		return response(http.StatusOK, ""), nil

	case req.Method == http.MethodDelete:
		delete(f.objects, key)
		return response(http.StatusNoContent, ""), nil
	}
	return response(http.StatusNotImplemented, ""), nil
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/xml"}},
	}
}

func newFakeStore(t *testing.T, prefix string) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]int)}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("ошибка конфигурации AWS: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://s3.test.local")
	})
	return newWithClient(client, "backups", prefix), fake
}

// TestNew_BucketRequired проверяет обязательность бакета.
func TestNew_BucketRequired(t *testing.T) {
	if _, err := New(context.Background(), Config{}); !errors.Is(err, ErrBucketRequired) {
		t.Errorf("ожидается ErrBucketRequired, получено %v", err)
	}
}

// TestStore_UploadListDelete проверяет загрузку, листинг под префиксом и удаление.
func TestStore_UploadListDelete(t *testing.T) {
	store, fake := newFakeStore(t, "fabtrack/")
	ctx := context.Background()

	for _, name := range []string{"fabtrack_manual_20260301_100000.db", "fabtrack_auto_20260302_030000.db"} {
		if err := store.Upload(ctx, name, bytes.NewReader([]byte("SQLite format 3"))); err != nil {
			t.Fatalf("Upload(%s): %v", name, err)
		}
	}
	fake.mu.Lock()
	fake.objects["other/unrelated.db"] = 1
	fake.mu.Unlock()

	objects, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("ожидалось 2 объекта под префиксом, получено %d", len(objects))
	}
	if objects[0].Name != "fabtrack_auto_20260302_030000.db" {
		t.Errorf("префикс должен отрезаться и имена сортироваться: %s", objects[0].Name)
	}

	if err := store.Delete(ctx, "fabtrack_auto_20260302_030000.db"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	objects, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 1 || objects[0].Name != "fabtrack_manual_20260301_100000.db" {
		t.Errorf("после удаления ожидается один объект, получено %v", objects)
	}
}
