// Package store persists recording metadata in a local SQLite file.
// A recording row is created the moment capture starts and enriched as
// the pipeline progresses, so the database always reflects what exists
// on disk even after a crash.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a recording id has no row.
var ErrNotFound = errors.New("recording not found")

// Recording is one captured session. The path columns are nullable:
// a nil LocalPath means no local copy exists (tiered off or not yet
// finalized), and likewise for NAS and cloud.
type Recording struct {
	ID              uint `gorm:"primarykey"`
	CreatedAt       time.Time
	Name            string
	LocalPath       *string
	NASPath         *string
	CloudURL        *string
	DurationSeconds *float64
	Transcript      *string
	Summary         *string
	Notes           *string
	Archived        bool
}

// HasAnyCopy reports whether at least one storage tier holds the audio.
func (r *Recording) HasAnyCopy() bool {
	return r.LocalPath != nil || r.NASPath != nil || r.CloudURL != nil
}

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Recording{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a new recording row and returns its id. LocalPath is
// set up front to the path the finalizer will write, so an interrupted
// session is still discoverable.
func (s *Store) Create(name, localPath string) (uint, error) {
	rec := Recording{Name: name, LocalPath: &localPath}
	if err := s.db.Create(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (s *Store) Get(id uint) (*Recording, error) {
	var rec Recording
	err := s.db.First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns recordings newest-first. Archived rows are hidden
// unless includeArchived is set.
func (s *Store) List(includeArchived bool) ([]Recording, error) {
	// id breaks ties for rows created in the same instant
	q := s.db.Order("created_at desc, id desc")
	if !includeArchived {
		q = q.Where("archived = ?", false)
	}
	var recs []Recording
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// SetFinalized records the finished artifact's duration and location.
func (s *Store) SetFinalized(id uint, durationSeconds float64, localPath string) error {
	return s.update(id, map[string]any{
		"duration_seconds": durationSeconds,
		"local_path":       localPath,
	})
}

// MarkFinalizeFailed appends a note so a failed finalize is visible in
// the listing next to its preserved spool.
func (s *Store) MarkFinalizeFailed(id uint, note string) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	combined := note
	if rec.Notes != nil && *rec.Notes != "" {
		combined = *rec.Notes + "\n" + note
	}
	return s.update(id, map[string]any{"notes": combined})
}

func (s *Store) Rename(id uint, name string) error {
	return s.update(id, map[string]any{"name": name})
}

func (s *Store) SetTranscript(id uint, transcript string) error {
	return s.update(id, map[string]any{"transcript": transcript})
}

func (s *Store) SetSummary(id uint, summary string) error {
	return s.update(id, map[string]any{"summary": summary})
}

func (s *Store) SetNotes(id uint, notes string) error {
	return s.update(id, map[string]any{"notes": notes})
}

// SetLocalPath updates the local tier location; nil clears it.
func (s *Store) SetLocalPath(id uint, path *string) error {
	return s.update(id, map[string]any{"local_path": path})
}

func (s *Store) SetNASPath(id uint, path *string) error {
	return s.update(id, map[string]any{"nas_path": path})
}

func (s *Store) SetCloudURL(id uint, url *string) error {
	return s.update(id, map[string]any{"cloud_url": url})
}

func (s *Store) SetArchived(id uint, archived bool) error {
	return s.update(id, map[string]any{"archived": archived})
}

// Delete removes the row. Callers are responsible for deleting the
// audio copies first.
func (s *Store) Delete(id uint) error {
	res := s.db.Delete(&Recording{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func (s *Store) update(id uint, fields map[string]any) error {
	res := s.db.Model(&Recording{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}
