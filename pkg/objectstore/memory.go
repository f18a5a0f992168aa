package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process ObjectStore fake used by pkg/ingest and
// pkg/worker tests: no network, fully deterministic, and cheap to reset
// between cases.
type Memory struct {
	mu         sync.Mutex
	objects    map[string][]byte
	quotaBytes int64
	quotaSet   bool
}

// NewMemory creates an empty fake. quotaBytes of 0 means unbounded.
func NewMemory(quotaBytes int64) *Memory {
	return &Memory{
		objects:    make(map[string][]byte),
		quotaBytes: quotaBytes,
		quotaSet:   quotaBytes > 0,
	}
}

// Put implements ObjectStore.
func (m *Memory) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

// Head implements ObjectStore.
func (m *Memory) Head(ctx context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return 0, false, nil
	}
	return int64(len(data)), true, nil
}

// GetStream implements ObjectStore.
func (m *Memory) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errObjectNotFound(key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements ObjectStore.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// ListPrefix implements ObjectStore.
func (m *Memory) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// BucketUsageBytes implements ObjectStore.
func (m *Memory) BucketUsageBytes(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, v := range m.objects {
		total += int64(len(v))
	}
	return total, nil
}

// BucketQuotaBytes implements ObjectStore.
func (m *Memory) BucketQuotaBytes() (int64, bool) {
	return m.quotaBytes, m.quotaSet
}

// UsedRatio implements ObjectStore.
func (m *Memory) UsedRatio(ctx context.Context) (float64, bool, error) {
	if !m.quotaSet {
		return 0, false, nil
	}
	used, err := m.BucketUsageBytes(ctx)
	if err != nil {
		return 0, false, err
	}
	return float64(used) / float64(m.quotaBytes), true, nil
}

type objectNotFoundError string

func (e objectNotFoundError) Error() string { return "object not found: " + string(e) }

func errObjectNotFound(key string) error { return objectNotFoundError(key) }
