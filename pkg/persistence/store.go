package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/greenpower/gpd-go/pkg/device"
)

// ErrNoState is returned by Load when nothing has been persisted yet.
var ErrNoState = errors.New("no persisted state")

// Store is the non-volatile storage collaborator. Load fills buf with the
// last saved blob and returns the number of bytes read.
type Store interface {
	Load(buf []byte) (int, error)
	Save(buf []byte) error
}

// FileStore persists the blob to a single file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a new file store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the blob to disk. The previous blob is replaced atomically.
func (s *FileStore) Save(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the blob from disk.
// Returns ErrNoState if the file doesn't exist.
func (s *FileStore) Load(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, ErrNoState
	}
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

// Clear removes the state file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MemoryStore keeps the blob in memory. It simulates a power cycle when
// shared between two device instances.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	Saves int
}

// Save stores a copy of buf.
func (s *MemoryStore) Save(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data[:0], buf...)
	s.Saves++
	return nil
}

// Load copies the stored blob into buf.
func (s *MemoryStore) Load(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0, ErrNoState
	}
	return copy(buf, s.data), nil
}

// Adapter binds a Store to a device record.
type Adapter struct {
	store Store
}

// NewAdapter creates an adapter around store.
func NewAdapter(store Store) *Adapter {
	return &Adapter{store: store}
}

// Restore overlays the last persisted blob onto rec. A store without state
// leaves the configured defaults in place.
func (a *Adapter) Restore(rec *device.Record) error {
	buf := make([]byte, BlobSize)
	n, err := a.store.Load(buf)
	if errors.Is(err, ErrNoState) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	blob, err := Decode(buf[:n])
	if err != nil {
		return err
	}
	return blob.Apply(rec)
}

// Persist saves the persisted subset of rec.
func (a *Adapter) Persist(rec *device.Record) error {
	blob := Encode(rec)
	if err := a.store.Save(blob[:]); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
