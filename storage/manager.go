package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mvult/secretary/encoder"
	"github.com/mvult/secretary/log"
	"github.com/mvult/secretary/store"
)

var (
	// ErrLastCopy guards against removing the only remaining copy of
	// a recording's audio.
	ErrLastCopy = errors.New("refusing to remove the last remaining copy")
	ErrNoCloud  = errors.New("cloud tier not configured")
	ErrNoSource = errors.New("no tier holds a readable copy")
)

// Records is the slice of the metadata store the manager needs.
type Records interface {
	Get(id uint) (*store.Recording, error)
	SetLocalPath(id uint, p *string) error
	SetNASPath(id uint, p *string) error
	SetCloudURL(id uint, u *string) error
	Delete(id uint) error
}

// Cloud is the blob operations the manager uses; AzureClient
// implements it.
type Cloud interface {
	Upload(ctx context.Context, blob string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, blob, destPath string) error
	Delete(ctx context.Context, blob string) error
}

type Config struct {
	LocalDir      string
	NASDir        string
	Cloud         Cloud // nil disables the cloud tier
	CompressCloud bool  // FLAC-compress uploads
}

// Manager replicates recordings across tiers. Ordering is invariant:
// a copy is placed (or confirmed) at the destination before the
// record is updated, and a record column is cleared before nothing
// else references the removed copy.
type Manager struct {
	rec Records
	cfg Config
}

func New(rec Records, cfg Config) *Manager {
	return &Manager{rec: rec, cfg: cfg}
}

// EnsureNAS places a copy on the NAS tier if none exists.
func (m *Manager) EnsureNAS(ctx context.Context, id uint) error {
	r, err := m.rec.Get(id)
	if err != nil {
		return err
	}
	if r.NASPath != nil && fileExists(*r.NASPath) {
		return nil
	}
	dest := filepath.Join(m.cfg.NASDir, m.baseName(r))
	if err := m.materialize(ctx, r, dest); err != nil {
		log.Replication(id, "nas", dest, err)
		return err
	}
	if err := m.rec.SetNASPath(id, &dest); err != nil {
		return err
	}
	log.Replication(id, "nas", dest, nil)
	return nil
}

// EnsureLocal places a copy on the local tier if none exists.
func (m *Manager) EnsureLocal(ctx context.Context, id uint) error {
	r, err := m.rec.Get(id)
	if err != nil {
		return err
	}
	if r.LocalPath != nil && fileExists(*r.LocalPath) {
		return nil
	}
	dest := filepath.Join(m.cfg.LocalDir, m.baseName(r))
	if err := m.materialize(ctx, r, dest); err != nil {
		log.Replication(id, "local", dest, err)
		return err
	}
	if err := m.rec.SetLocalPath(id, &dest); err != nil {
		return err
	}
	log.Replication(id, "local", dest, nil)
	return nil
}

// EnsureCloud uploads the recording if no cloud copy exists.
func (m *Manager) EnsureCloud(ctx context.Context, id uint) error {
	if m.cfg.Cloud == nil {
		return ErrNoCloud
	}
	r, err := m.rec.Get(id)
	if err != nil {
		return err
	}
	if r.CloudURL != nil {
		return nil
	}
	src := localReadable(r)
	if src == "" {
		return ErrNoSource
	}

	blob := m.baseName(r)
	var data []byte
	contentType := "audio/wav"
	if m.cfg.CompressCloud {
		data, err = encoder.FromWAV(src)
		if err != nil {
			return fmt.Errorf("compressing for upload: %w", err)
		}
		blob = strings.TrimSuffix(blob, ".wav") + ".flac"
		contentType = "audio/flac"
	} else {
		data, err = os.ReadFile(src)
		if err != nil {
			return err
		}
	}

	url, err := m.cfg.Cloud.Upload(ctx, blob, data, contentType)
	if err != nil {
		log.Replication(id, "cloud", blob, err)
		return err
	}
	if err := m.rec.SetCloudURL(id, &url); err != nil {
		return err
	}
	log.Replication(id, "cloud", url, nil)
	return nil
}

// ToggleLocal turns the local tier on or off for one recording.
// Turning a tier off refuses to orphan the audio entirely.
func (m *Manager) ToggleLocal(ctx context.Context, id uint, on bool) error {
	if on {
		return m.EnsureLocal(ctx, id)
	}
	r, err := m.rec.Get(id)
	if err != nil {
		return err
	}
	if r.LocalPath == nil {
		return nil
	}
	if r.NASPath == nil && r.CloudURL == nil {
		return ErrLastCopy
	}
	if err := removeFile(*r.LocalPath); err != nil {
		return err
	}
	return m.rec.SetLocalPath(id, nil)
}

func (m *Manager) ToggleNAS(ctx context.Context, id uint, on bool) error {
	if on {
		return m.EnsureNAS(ctx, id)
	}
	r, err := m.rec.Get(id)
	if err != nil {
		return err
	}
	if r.NASPath == nil {
		return nil
	}
	if r.LocalPath == nil && r.CloudURL == nil {
		return ErrLastCopy
	}
	if err := removeFile(*r.NASPath); err != nil {
		return err
	}
	return m.rec.SetNASPath(id, nil)
}

func (m *Manager) ToggleCloud(ctx context.Context, id uint, on bool) error {
	if on {
		return m.EnsureCloud(ctx, id)
	}
	r, err := m.rec.Get(id)
	if err != nil {
		return err
	}
	if r.CloudURL == nil {
		return nil
	}
	if r.LocalPath == nil && r.NASPath == nil {
		return ErrLastCopy
	}
	if m.cfg.Cloud == nil {
		return ErrNoCloud
	}
	if err := m.cfg.Cloud.Delete(ctx, blobFromURL(*r.CloudURL)); err != nil {
		return err
	}
	return m.rec.SetCloudURL(id, nil)
}

// DeleteEverywhere removes every copy and then the record itself.
func (m *Manager) DeleteEverywhere(ctx context.Context, id uint) error {
	r, err := m.rec.Get(id)
	if err != nil {
		return err
	}
	if r.LocalPath != nil {
		if err := removeFile(*r.LocalPath); err != nil {
			return err
		}
	}
	if r.NASPath != nil {
		if err := removeFile(*r.NASPath); err != nil {
			return err
		}
	}
	if r.CloudURL != nil {
		if m.cfg.Cloud == nil {
			return ErrNoCloud
		}
		if err := m.cfg.Cloud.Delete(ctx, blobFromURL(*r.CloudURL)); err != nil {
			return err
		}
	}
	return m.rec.Delete(id)
}

// materialize produces a WAV copy at dest from whichever tier has one,
// preferring local, then NAS, then cloud.
func (m *Manager) materialize(ctx context.Context, r *store.Recording, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if src := localReadable(r); src != "" && src != dest {
		return copyFile(src, dest)
	}
	if r.CloudURL == nil {
		return ErrNoSource
	}
	if m.cfg.Cloud == nil {
		return ErrNoCloud
	}
	blob := blobFromURL(*r.CloudURL)
	if strings.HasSuffix(blob, ".flac") {
		tmp := dest + ".flac.partial"
		if err := m.cfg.Cloud.Download(ctx, blob, tmp); err != nil {
			return err
		}
		defer os.Remove(tmp)
		return encoder.ToWAV(tmp, dest)
	}
	return m.cfg.Cloud.Download(ctx, blob, dest)
}

func (m *Manager) baseName(r *store.Recording) string {
	if r.LocalPath != nil {
		return filepath.Base(*r.LocalPath)
	}
	if r.NASPath != nil {
		return filepath.Base(*r.NASPath)
	}
	return fmt.Sprintf("rec_%d.wav", r.ID)
}

func localReadable(r *store.Recording) string {
	if r.LocalPath != nil && fileExists(*r.LocalPath) {
		return *r.LocalPath
	}
	if r.NASPath != nil && fileExists(*r.NASPath) {
		return *r.NASPath
	}
	return ""
}

func blobFromURL(u string) string {
	return path.Base(u)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func removeFile(p string) error {
	err := os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
