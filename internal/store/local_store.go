// Package store holds the on-device copy of grade records: one JSON
// file per owner key, durable across restarts. The remote CMS remains
// the authoritative copy; this store only ever receives reconciled
// sets from the sync service.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gradetrack/gradesync-api/internal/dateutil"
	"github.com/gradetrack/gradesync-api/internal/models"
	appErrors "github.com/gradetrack/gradesync-api/pkg/errors"
)

// GlobalOwnerKey is the documented fallback partition used when no user
// identity is known. Scoped keys are always preferred.
const GlobalOwnerKey = "dailyGrades"

// AnyVersion skips the conflict check on Put.
const AnyVersion = -1

// LocalStore persists per-owner grade record sets under a base
// directory. Writes are versioned so a stale writer fails loudly
// instead of silently dropping a concurrent update.
type LocalStore struct {
	baseDir       string
	retentionDays int

	mu sync.Mutex
}

type fileEnvelope struct {
	Version int64                `json:"version"`
	Records []models.GradeRecord `json:"records"`
}

// NewLocalStore ensures the base directory exists and returns a handle.
func NewLocalStore(baseDir string, retentionDays int) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "./gradestore"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir, retentionDays: retentionDays}, nil
}

// OwnerKey derives the cache partition for a user email. Empty email
// falls back to the shared global key.
func OwnerKey(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return GlobalOwnerKey
	}
	return GlobalOwnerKey + "_" + email
}

// Get returns the stored record set for the owner together with its
// write version. A missing file is an empty set at version zero.
func (s *LocalStore) Get(ownerKey string) ([]models.GradeRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read(ownerKey)
	if err != nil {
		return nil, 0, err
	}
	return env.Records, env.Version, nil
}

// Put replaces the owner's record set. When expectedVersion is not
// AnyVersion and does not match the stored version, the write fails
// with a conflict so the caller can re-read and merge.
func (s *LocalStore) Put(ownerKey string, records []models.GradeRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(ownerKey)
	if err != nil {
		return err
	}
	if expectedVersion != AnyVersion && current.Version != expectedVersion {
		return appErrors.Wrap(
			fmt.Errorf("store version %d, expected %d", current.Version, expectedVersion),
			appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "grade store was modified concurrently")
	}

	env := fileEnvelope{
		Version: current.Version + 1,
		Records: s.applyRetention(records),
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal grade records: %w", err)
	}

	path := s.path(ownerKey)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write grade store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit grade store: %w", err)
	}
	return nil
}

func (s *LocalStore) read(ownerKey string) (fileEnvelope, error) {
	raw, err := os.ReadFile(s.path(ownerKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileEnvelope{}, nil
		}
		return fileEnvelope{}, fmt.Errorf("read grade store: %w", err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Tolerate the bare-array layout older deployments wrote.
		var records []models.GradeRecord
		if legacyErr := json.Unmarshal(raw, &records); legacyErr == nil {
			return fileEnvelope{Records: records}, nil
		}
		return fileEnvelope{}, fmt.Errorf("decode grade store: %w", err)
	}
	return env, nil
}

// applyRetention drops records older than the configured horizon.
// Retention of zero keeps everything.
func (s *LocalStore) applyRetention(records []models.GradeRecord) []models.GradeRecord {
	if s.retentionDays <= 0 {
		return records
	}

	cutoff := dateutil.Today().AddDays(-s.retentionDays)
	kept := make([]models.GradeRecord, 0, len(records))
	for _, record := range records {
		d, err := dateutil.Normalize(record.Date)
		if err != nil {
			continue
		}
		if !d.Before(cutoff) {
			kept = append(kept, record)
		}
	}
	return kept
}

func (s *LocalStore) path(ownerKey string) string {
	return filepath.Join(s.baseDir, sanitize(ownerKey)+".json")
}

// sanitize keeps owner keys filesystem-safe; emails carry '@' and may
// carry path separators when maliciously crafted.
func sanitize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == '@':
			b.WriteString("_at_")
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
