package scripts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryArchive keeps scripts in process for local runs and tests.
type MemoryArchive struct {
	mu      sync.Mutex
	objects map[string]string
	now     func() time.Time
}

// NewMemoryArchive returns an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		objects: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *MemoryArchive) Save(_ context.Context, userID, title, code string) (Script, error) {
	if strings.TrimSpace(code) == "" {
		return Script{}, ErrEmptyScript
	}
	id := uuid.New().String()
	path := objectPath(userID, id)

	a.mu.Lock()
	a.objects[path] = code
	a.mu.Unlock()

	now := a.now()
	return Script{
		ID:         id,
		Title:      title,
		URL:        "memory://" + path,
		ExpiresAt:  now.Add(URLExpiry),
		CreatedAt:  now,
		ObjectPath: path,
	}, nil
}

func (a *MemoryArchive) Purge(_ context.Context, userID string) error {
	prefix := userPrefix(userID)

	a.mu.Lock()
	defer a.mu.Unlock()
	for path := range a.objects {
		if strings.HasPrefix(path, prefix) {
			delete(a.objects, path)
		}
	}
	return nil
}

// Count reports how many scripts userID has stored.
func (a *MemoryArchive) Count(userID string) int {
	prefix := userPrefix(userID)

	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for path := range a.objects {
		if strings.HasPrefix(path, prefix) {
			n++
		}
	}
	return n
}
