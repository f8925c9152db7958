package files

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoSuchFile is returned by Memory for unknown ids.
var ErrNoSuchFile = errors.New("canopy: no such file")

// Memory is an in-process Storage for tests and local serving.
type Memory struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]bool
	deleted []string
}

// NewMemory creates a Memory storage whose URLs start with baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{baseURL: baseURL, objects: map[string]bool{}}
}

// Add registers ids as stored objects.
func (m *Memory) Add(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.objects[id] = true
	}
}

// URL implements Storage.
func (m *Memory) URL(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.objects[id] {
		return "", ErrNoSuchFile
	}
	return m.baseURL + "/" + id, nil
}

// Delete implements Storage.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.objects[id] {
		return ErrNoSuchFile
	}
	delete(m.objects, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// Deleted returns the ids deleted so far, sorted.
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.deleted...)
	sort.Strings(out)
	return out
}

var _ Storage = (*Memory)(nil)
