package tokencache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// State is what survives a client restart
type State struct {
	SessionID   string    `toml:"session_id"`
	AccessToken string    `toml:"access_token"`
	TokenExpiry time.Time `toml:"token_expiry"`
}

// StateStore persists State
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// FileStore keeps State in a TOML file readable only by the owner
type FileStore struct {
	path string
}

var _ StateStore = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultStatePath is ~/.config/spotifyctl/session.toml (or the platform equivalent)
func DefaultStatePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "spotifyctl", "session.toml"), nil
}

// Load returns the empty State when the file does not exist yet
func (f *FileStore) Load() (State, error) {
	var state State
	if _, err := toml.DecodeFile(f.path, &state); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("[tokencache FileStore] load %s: %w", f.path, err)
	}
	return state, nil
}

func (f *FileStore) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("[tokencache FileStore] create dir: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("[tokencache FileStore] open %s: %w", f.path, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(state); err != nil {
		return fmt.Errorf("[tokencache FileStore] encode: %w", err)
	}
	return nil
}

// MemoryStore keeps State in process memory
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

var _ StateStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) Save(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}
