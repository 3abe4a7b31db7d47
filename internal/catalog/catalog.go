// Package catalog implements the local manifest store (spec §4.8): per-type
// directories holding "<name>.<object-type>.yaml" files, written atomically.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/pbeza/wildland-client/internal/config"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-catalog")

// ObjectType names the manifest kind, forming the "<object-type>" suffix of
// a manifest's filename.
type ObjectType string

const (
	TypeUser      ObjectType = "user"
	TypeContainer ObjectType = "container"
	TypeStorage   ObjectType = "storage"
	TypeBridge    ObjectType = "bridge"
)

// Store is a directory of "<name>.<object-type>.yaml" manifest files for
// one object type.
type Store struct {
	dir        string
	objectType ObjectType
}

// NewStore opens (creating if needed) the manifest directory for
// objectType under dir.
func NewStore(dir string, objectType ObjectType) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("catalog: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir, objectType: objectType}, nil
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%s.yaml", name, s.objectType))
}

// Put atomically writes wire-format manifest bytes under name, replacing
// any existing manifest (spec §3 Lifecycle: "edited by modify operations
// (atomic replace)").
func (s *Store) Put(name string, wireBytes []byte) error {
	return config.AtomicWriteFile(s.pathFor(name), wireBytes, 0644)
}

// Get reads the raw wire-format bytes for name.
func (s *Store) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog: %s/%s not found: %w", s.objectType, name, wlerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s/%s: %w", s.objectType, name, err)
	}
	return data, nil
}

// Delete removes name's manifest (unpublish / local deletion).
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.pathFor(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catalog: delete %s/%s: %w", s.objectType, name, err)
	}
	return nil
}

// List returns every manifest name (without the ".<object-type>.yaml"
// suffix) currently in the store.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", s.dir, err)
	}
	suffix := "." + string(s.objectType) + ".yaml"
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), suffix))
	}
	return names, nil
}

// Catalog groups the four per-type stores rooted at a Config's directories.
type Catalog struct {
	Users      *Store
	Containers *Store
	Storages   *Store
	Bridges    *Store
}

// Open constructs a Catalog from a loaded Config.
func Open(cfg *config.Config) (*Catalog, error) {
	users, err := NewStore(cfg.UserDir, TypeUser)
	if err != nil {
		return nil, err
	}
	containers, err := NewStore(cfg.ContainerDir, TypeContainer)
	if err != nil {
		return nil, err
	}
	storages, err := NewStore(cfg.StorageDir, TypeStorage)
	if err != nil {
		return nil, err
	}
	bridges, err := NewStore(cfg.BridgeDir, TypeBridge)
	if err != nil {
		return nil, err
	}
	return &Catalog{Users: users, Containers: containers, Storages: storages, Bridges: bridges}, nil
}
