package blobstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/services"
)

// FakeStore is an in-memory Store for tests, modeled on the teacher's
// fake.go doubles for lock and broker.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewFakeStore constructs an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{objects: make(map[string][]byte)}
}

func (f *FakeStore) Upload(_ context.Context, key string, r io.Reader, _ map[string]string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read upload body for %s: %w", key, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *FakeStore) Download(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, services.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *FakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *FakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *FakeStore) ListObjects(_ context.Context, prefix string, limit int) ([]Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	objects := make([]Object, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, Object{Key: k, Size: int64(len(f.objects[k]))})
	}
	return objects, nil
}

func (f *FakeStore) PresignedDownloadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://fake-storage.test/%s?mode=download&expires=%d", key, int64(ttl.Seconds())), nil
}

func (f *FakeStore) PresignedUploadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://fake-storage.test/%s?mode=upload&expires=%d", key, int64(ttl.Seconds())), nil
}

func (f *FakeStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			delete(f.objects, k)
			deleted++
		}
	}
	return deleted, nil
}

// SaveExtractedContent implements workflow.ExtractedContentStore.
func (f *FakeStore) SaveExtractedContent(ctx context.Context, documentID int64, companyID string, markdown string) (string, error) {
	key := ExtractedContentKey(companyID, documentID)
	if err := f.Upload(ctx, key, strings.NewReader(markdown), nil); err != nil {
		return "", err
	}
	return key, nil
}

// LoadExtractedContent implements cellstrategy.ContentLoader.
func (f *FakeStore) LoadExtractedContent(ctx context.Context, doc models.Document) (string, error) {
	if doc.ExtractedContentPath == nil {
		return "", fmt.Errorf("document %d has no extracted content path", doc.ID)
	}
	data, err := f.Download(ctx, *doc.ExtractedContentPath)
	if err != nil {
		return "", fmt.Errorf("load extracted content for document %d: %w", doc.ID, err)
	}
	return string(data), nil
}
