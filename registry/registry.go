// Package registry persists the set of users known to the bot so lifecycle
// broadcasts (startup, shutdown) can reach them across restarts.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type fileFormat struct {
	BroadcastUsers []int64   `json:"broadcast_users"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Registry is a durable set of user ids backed by a JSON file. Adds are
// persisted immediately so a crash loses at most the write in flight.
type Registry struct {
	mu    sync.Mutex
	path  string
	users map[int64]struct{}
}

// Load reads the registry file, tolerating a missing one.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, users: make(map[int64]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	for _, id := range ff.BroadcastUsers {
		r.users[id] = struct{}{}
	}
	return r, nil
}

// Add records a user and persists the registry when the set changed.
func (r *Registry) Add(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; ok {
		return nil
	}
	r.users[userID] = struct{}{}
	return r.saveLocked()
}

// List returns the known user ids in ascending order.
func (r *Registry) List() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of known users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Save forces a write of the current set.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// saveLocked writes via a temp file and rename so readers never observe a
// half-written registry.
func (r *Registry) saveLocked() error {
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data, err := json.MarshalIndent(fileFormat{
		BroadcastUsers: ids,
		UpdatedAt:      time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
