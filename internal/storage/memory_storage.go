package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

const memoryScheme = "memory://"

type MemoryObject struct {
	ContentType string
	Data        []byte
}

// MemoryStorage keeps assets in process. Used for tests and local runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]MemoryObject
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]MemoryObject), now: time.Now}
}

func (m *MemoryStorage) Put(ctx context.Context, ownerID, filename, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyObject
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ProductImageKey(ownerID, filename, m.now())

	m.mu.Lock()
	m.objects[key] = MemoryObject{ContentType: contentType, Data: append([]byte(nil), data...)}
	m.mu.Unlock()
	return memoryScheme + key, nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (m *MemoryStorage) Delete(ctx context.Context, locator string) error {
	if !strings.HasPrefix(locator, memoryScheme) {
		return ErrUnknownObject
	}
	m.mu.Lock()
	delete(m.objects, strings.TrimPrefix(locator, memoryScheme))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Get(locator string) (MemoryObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[strings.TrimPrefix(locator, memoryScheme)]
	return obj, ok
}

func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
