package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoBinding is returned when a client has no stored binding.
var ErrNoBinding = errors.New("no session binding")

// ErrCorruptBindings is returned by LoadBinding when the binding file cannot
// be decoded. Saving or deleting overwrites such a file.
var ErrCorruptBindings = errors.New("binding file unreadable")

// Binding ties a client to one player in one game.
type Binding struct {
	GameCode string `json:"game_code"`
	PlayerID string `json:"player_id"`
}

func (b Binding) Empty() bool {
	return b.GameCode == "" || b.PlayerID == ""
}

// BindingStore persists bindings across restarts, keyed by client id.
type BindingStore interface {
	SaveBinding(ctx context.Context, clientID string, b Binding) error
	LoadBinding(ctx context.Context, clientID string) (Binding, error)
	DeleteBinding(ctx context.Context, clientID string) error
}

// MemoryBindings 内存实现
type MemoryBindings struct {
	bindings map[string]Binding
	mutex    sync.RWMutex
}

func NewMemoryBindings() *MemoryBindings {
	return &MemoryBindings{bindings: make(map[string]Binding)}
}

func (m *MemoryBindings) SaveBinding(ctx context.Context, clientID string, b Binding) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.bindings[clientID] = b
	return nil
}

func (m *MemoryBindings) LoadBinding(ctx context.Context, clientID string) (Binding, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	b, ok := m.bindings[clientID]
	if !ok {
		return Binding{}, ErrNoBinding
	}
	return b, nil
}

func (m *MemoryBindings) DeleteBinding(ctx context.Context, clientID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.bindings, clientID)
	return nil
}

// FileBindings keeps all bindings in one JSON file, used by the CLI client.
type FileBindings struct {
	path  string
	mutex sync.Mutex
}

func NewFileBindings(path string) *FileBindings {
	return &FileBindings{path: path}
}

func (f *FileBindings) read() (map[string]Binding, error) {
	all := make(map[string]Binding)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return make(map[string]Binding), fmt.Errorf("%w: %v", ErrCorruptBindings, err)
	}
	return all, nil
}

func (f *FileBindings) write(all map[string]Binding) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileBindings) SaveBinding(ctx context.Context, clientID string, b Binding) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	all, err := f.read()
	if err != nil && !errors.Is(err, ErrCorruptBindings) {
		return err
	}
	all[clientID] = b
	return f.write(all)
}

func (f *FileBindings) LoadBinding(ctx context.Context, clientID string) (Binding, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	all, err := f.read()
	if err != nil {
		return Binding{}, err
	}
	b, ok := all[clientID]
	if !ok || b.Empty() {
		return Binding{}, ErrNoBinding
	}
	return b, nil
}

func (f *FileBindings) DeleteBinding(ctx context.Context, clientID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	all, err := f.read()
	if errors.Is(err, ErrCorruptBindings) {
		return f.write(all)
	}
	if err != nil {
		return err
	}
	if _, ok := all[clientID]; !ok {
		return nil
	}
	delete(all, clientID)
	return f.write(all)
}
