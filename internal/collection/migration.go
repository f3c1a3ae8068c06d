package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codectx-dev/codectx/internal/logger"
)

const migrationFormatVersion = "v1"

// Mapping records one legacy collection that should be renamed to its
// canonical name.
type Mapping struct {
	OldName     string     `json:"oldName"`
	NewName     string     `json:"newName"`
	CanonicalID string     `json:"canonicalId"`
	Path        string     `json:"path"`
	CreatedAt   time.Time  `json:"createdAt"`
	Migrated    bool       `json:"migrated"`
	MigratedAt  *time.Time `json:"migratedAt,omitempty"`
}

type migrationFile struct {
	FormatVersion string    `json:"formatVersion"`
	Mappings      []Mapping `json:"mappings"`
}

// Renamer is the vector-store surface the migrator needs.
type Renamer interface {
	RenameCollection(ctx context.Context, oldName, newName string) error
	HasCollection(ctx context.Context, name string) (bool, error)
}

// MigrationStore persists migration mappings to disk and runs the one-shot
// rename pass.
type MigrationStore struct {
	path string
	log  *logger.Logger

	mu       sync.Mutex
	mappings []Mapping
}

// NewMigrationStore loads (or initializes) the mapping file at path.
// A corrupt file starts empty with a logged error, matching the snapshot
// store's tolerance policy.
func NewMigrationStore(path string, log *logger.Logger) *MigrationStore {
	s := &MigrationStore{path: path, log: log}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s
	}
	if err != nil {
		log.Error("cannot read collection migration file", "path", path, "err", err)
		return s
	}

	var file migrationFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Error("corrupt collection migration file, starting empty", "path", path, "err", err)
		return s
	}
	s.mappings = file.Mappings
	return s
}

// Record adds a mapping unless one for the same old name already exists.
func (s *MigrationStore) Record(m Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.mappings {
		if existing.OldName == m.OldName {
			return
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.mappings = append(s.mappings, m)
	if err := s.persistLocked(); err != nil {
		s.log.Error("cannot persist collection migration mappings", "err", err)
	}
}

// Pending returns the mappings not yet migrated.
func (s *MigrationStore) Pending() []Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Mapping
	for _, m := range s.mappings {
		if !m.Migrated {
			out = append(out, m)
		}
	}
	return out
}

// All returns every recorded mapping.
func (s *MigrationStore) All() []Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mapping, len(s.mappings))
	copy(out, s.mappings)
	return out
}

// MigrateAll walks unmigrated mappings and renames each legacy collection in
// the vector store. It is idempotent: a mapping whose old collection is gone
// (already renamed, or dropped) is marked migrated and skipped.
func (s *MigrationStore) MigrateAll(ctx context.Context, store Renamer) error {
	pending := s.Pending()
	for _, m := range pending {
		exists, err := store.HasCollection(ctx, m.OldName)
		if err != nil {
			return fmt.Errorf("checking collection %s: %w", m.OldName, err)
		}
		if exists {
			if err := store.RenameCollection(ctx, m.OldName, m.NewName); err != nil {
				s.log.Error("collection rename failed",
					"old", m.OldName, "new", m.NewName, "err", err)
				continue
			}
			s.log.Info("migrated collection", "old", m.OldName, "new", m.NewName)
		}
		s.markMigrated(m.OldName)
	}
	return nil
}

func (s *MigrationStore) markMigrated(oldName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for i := range s.mappings {
		if s.mappings[i].OldName == oldName {
			s.mappings[i].Migrated = true
			s.mappings[i].MigratedAt = &now
		}
	}
	if err := s.persistLocked(); err != nil {
		s.log.Error("cannot persist collection migration mappings", "err", err)
	}
}

func (s *MigrationStore) persistLocked() error {
	file := migrationFile{
		FormatVersion: migrationFormatVersion,
		Mappings:      s.mappings,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
