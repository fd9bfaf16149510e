package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]map[string]memObject
}

type memObject struct {
	body []byte
	meta map[string]string
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string]memObject)}
}

func (m *Memory) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]memObject)
	}
	return nil
}

func (m *Memory) Put(_ context.Context, bucket, key string, body []byte, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}
	b[key] = memObject{body: append([]byte(nil), body...), meta: meta}
	return nil
}

func (m *Memory) Download(_ context.Context, bucket, key, dest string) (map[string]string, error) {
	obj, err := m.get(bucket, key)
	if err != nil {
		return nil, err
	}
	if err := writeFile(dest, bytes.NewReader(obj.body)); err != nil {
		return nil, err
	}
	meta := make(map[string]string, len(obj.meta)+1)
	for k, v := range obj.meta {
		meta[k] = v
	}
	meta["Content-Length"] = fmt.Sprint(len(obj.body))
	return meta, nil
}

func (m *Memory) Delete(_ context.Context, bucket, key string) error {
	if _, err := m.get(bucket, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
	return nil
}

// Object returns a stored body.
func (m *Memory) Object(bucket, key string) ([]byte, bool) {
	obj, err := m.get(bucket, key)
	if err != nil {
		return nil, false
	}
	return obj.body, true
}

func (m *Memory) get(bucket, key string) (memObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return memObject{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return obj, nil
}
