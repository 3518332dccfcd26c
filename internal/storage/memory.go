package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// MemoryStorage keeps objects in a map and serves them under a fake base
// URL. Foreign URLs are fetched over HTTP.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
	baseURL string
	http    *http.Client
}

func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStorage{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (m *MemoryStorage) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return m.baseURL + "/" + key, nil
}

func (m *MemoryStorage) Get(ctx context.Context, url string) ([]byte, error) {
	key, ok := strings.CutPrefix(url, m.baseURL+"/")
	if !ok {
		return fetchHTTP(ctx, m.http, url)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

// Keys lists stored keys; handy in tests.
func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}
