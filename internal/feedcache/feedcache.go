// Package feedcache maps source GTFS archives to their derived SQLite
// stores so an unchanged feed is never rebuilt. Identity is a cheap
// fingerprint, not a full-content hash: the first 10 MiB of the archive
// combined with its size and modification time. Two archives that differ
// only beyond the window while agreeing on size and mtime alias to the same
// fingerprint; that residual risk is accepted.
package feedcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// fingerprintWindow bounds how much of the archive is hashed.
const fingerprintWindow = 10 << 20

// StoreFileName is the derived store artifact inside a cache entry directory.
const StoreFileName = "gtfs.db"

// metaFileName is the sidecar written last; an entry without it is invalid.
const metaFileName = "meta.json"

// SourceInfo identifies the archive a cache entry was derived from.
type SourceInfo struct {
	Size  int64
	Mtime time.Time
}

// Stats are the per-table row counts recorded at build completion.
type Stats struct {
	RouteCount    int64 `json:"routeCount"`
	TripCount     int64 `json:"tripCount"`
	StopCount     int64 `json:"stopCount"`
	StopTimeCount int64 `json:"stopTimeCount"`
}

// Entry is the sidecar metadata persisted alongside a derived store.
type Entry struct {
	SourceHash  string    `json:"sourceHash"`
	SourceSize  int64     `json:"sourceSize"`
	SourceMtime int64     `json:"sourceMtime"`
	CreatedAt   time.Time `json:"createdAt"`
	Stats       Stats     `json:"stats"`
}

// Manager owns the cache directory. Every derived store lives in
// <dir>/<fingerprint>/ next to its meta.json; scratch builds live in
// <dir>/scratch-<uuid>/ until committed.
type Manager struct {
	dir string
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// SourceInfoFor stats the archive at path.
func SourceInfoFor(path string) (SourceInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceInfo{}, err
	}
	return SourceInfo{Size: info.Size(), Mtime: info.ModTime()}, nil
}

// Fingerprint hashes (leading bytes, size, mtime) of the archive at path.
// It is deterministic for an unmodified file; touching either the size or
// the modification time changes the result.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() // nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, fingerprintWindow)); err != nil {
		return "", fmt.Errorf("hashing archive: %w", err)
	}

	var trailer [16]byte
	binary.LittleEndian.PutUint64(trailer[0:8], uint64(info.Size()))
	binary.LittleEndian.PutUint64(trailer[8:16], uint64(info.ModTime().UnixNano()))
	h.Write(trailer[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}

// StorePath returns where the committed store for a fingerprint lives.
func (m *Manager) StorePath(fingerprint string) string {
	return filepath.Join(m.dir, fingerprint, StoreFileName)
}

func (m *Manager) entryDir(fingerprint string) string {
	return filepath.Join(m.dir, fingerprint)
}

// Lookup returns the cache entry for fingerprint if one exists and still
// matches the current source archive. A stale or unreadable entry is
// deleted together with its store before reporting a miss, so at most one
// valid store exists per fingerprint.
func (m *Manager) Lookup(fingerprint string, src SourceInfo) (*Entry, bool) {
	metaPath := filepath.Join(m.entryDir(fingerprint), metaFileName)

	b, err := os.ReadFile(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		m.Invalidate(fingerprint)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		m.Invalidate(fingerprint)
		return nil, false
	}

	if entry.SourceHash != fingerprint ||
		entry.SourceSize != src.Size ||
		entry.SourceMtime != src.Mtime.UnixNano() {
		m.Invalidate(fingerprint)
		return nil, false
	}

	if _, err := os.Stat(m.StorePath(fingerprint)); err != nil {
		m.Invalidate(fingerprint)
		return nil, false
	}

	return &entry, true
}

// Invalidate removes the entry directory and everything in it.
func (m *Manager) Invalidate(fingerprint string) {
	_ = os.RemoveAll(m.entryDir(fingerprint))
}

// ScratchDir creates a fresh workspace for one build attempt.
func (m *Manager) ScratchDir() (string, error) {
	dir := filepath.Join(m.dir, "scratch-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch workspace: %w", err)
	}
	return dir, nil
}

// RemoveScratch deletes a build workspace. Callers defer it unconditionally
// so a failed build never leaks disk.
func (m *Manager) RemoveScratch(dir string) {
	_ = os.RemoveAll(dir)
}

// Commit publishes a successfully built scratch workspace as the entry for
// fingerprint. The workspace directory is renamed into place first and the
// sidecar metadata is written last, so a crash mid-commit leaves a
// directory that Lookup treats as invalid rather than a corrupt store
// registered as valid.
func (m *Manager) Commit(fingerprint string, scratchDir string, src SourceInfo, stats Stats) (*Entry, error) {
	entry := &Entry{
		SourceHash:  fingerprint,
		SourceSize:  src.Size,
		SourceMtime: src.Mtime.UnixNano(),
		CreatedAt:   time.Now().UTC(),
		Stats:       stats,
	}

	finalDir := m.entryDir(fingerprint)
	_ = os.RemoveAll(finalDir)
	if err := os.Rename(scratchDir, finalDir); err != nil {
		return nil, fmt.Errorf("publishing derived store: %w", err)
	}

	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(finalDir, metaFileName), b, 0o644); err != nil {
		return nil, fmt.Errorf("writing cache entry: %w", err)
	}

	return entry, nil
}
