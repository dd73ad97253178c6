package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/fsutil"
)

// FileStore keeps one JSON file per (gate, revision) record under a base
// directory. Writes go through a lock file plus atomic rename, which gives
// real conditional-update semantics for workers sharing one host. The
// record id is the natural key, so files are easy to inspect by hand.
type FileStore struct {
	dir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	expanded, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if expanded == "" {
		return nil, errors.New("file store: empty base dir")
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("create status dir %s: %w", expanded, err)
	}
	return &FileStore{dir: expanded}, nil
}

// fileRecord is the on-disk shape. Evidence is stored in its encoded line
// form so the file stays greppable.
type fileRecord struct {
	ID        string    `json:"id"`
	Gate      string    `json:"gate"`
	Revision  string    `json:"revision"`
	State     string    `json:"state"`
	Evidence  string    `json:"evidence"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

func (f *FileStore) pathFor(id string) string {
	return filepath.Join(f.dir, unsafePathChars.ReplaceAllString(id, "_")+".json")
}

// Find implements Store.
func (f *FileStore) Find(ctx context.Context, gate, revision string) (StoredStatus, error) {
	return f.read(f.pathFor(memKey(gate, revision)))
}

// List implements Store.
func (f *FileStore) List(ctx context.Context, revision string) ([]StoredStatus, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read status dir: %w", err)
	}
	var out []StoredStatus
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := f.read(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if rec.Revision == revision {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gate < out[j].Gate })
	return out, nil
}

// Create implements Store.
func (f *FileStore) Create(ctx context.Context, s Status) (StoredStatus, error) {
	if err := s.Validate(); err != nil {
		return StoredStatus{}, err
	}
	id := memKey(s.Gate, s.Revision)
	path := f.pathFor(id)
	stored := StoredStatus{Status: s, ID: id, Version: 1}
	err := fsutil.WithLock(ctx, path, func() error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("create %s: %w", id, ErrExists)
		} else if !os.IsNotExist(err) {
			return &TransientError{Op: "create", Err: err}
		}
		return fsutil.WriteJSONFile(path, toFileRecord(stored))
	})
	if err != nil {
		return StoredStatus{}, err
	}
	return stored, nil
}

// Update implements Store.
func (f *FileStore) Update(ctx context.Context, id string, version int64, s Status) (StoredStatus, error) {
	if err := s.Validate(); err != nil {
		return StoredStatus{}, err
	}
	path := f.pathFor(id)
	var stored StoredStatus
	err := fsutil.WithLock(ctx, path, func() error {
		cur, err := f.read(path)
		if err != nil {
			return err
		}
		if s.Gate != cur.Gate || s.Revision != cur.Revision {
			return fmt.Errorf("update id %s: key mismatch (%s@%s vs %s@%s)",
				id, s.Gate, s.Revision, cur.Gate, cur.Revision)
		}
		if cur.Version != version {
			return &ConflictError{Gate: cur.Gate, Revision: cur.Revision, Version: version}
		}
		stored = StoredStatus{Status: s, ID: id, Version: version + 1}
		return fsutil.WriteJSONFile(path, toFileRecord(stored))
	})
	if err != nil {
		return StoredStatus{}, err
	}
	return stored, nil
}

func (f *FileStore) read(path string) (StoredStatus, error) {
	var rec fileRecord
	if err := fsutil.ReadJSONFile(path, &rec); err != nil {
		if os.IsNotExist(err) {
			return StoredStatus{}, ErrNotFound
		}
		return StoredStatus{}, err
	}
	var ev evidence.Evidence
	if rec.Evidence != "" {
		var err error
		ev, err = evidence.Decode(rec.Evidence)
		if err != nil {
			// A hand-mangled evidence line must not brick the record. The
			// state stays authoritative; the proof is flagged as corrupt.
			ev = evidence.Evidence{
				Kind:       evidence.KindFail,
				ReasonCode: evidence.ReasonEvidenceCorrupt,
				FreeText:   evidence.Truncate(err.Error()),
			}
		}
	}
	return StoredStatus{
		Status: Status{
			Gate:      rec.Gate,
			Revision:  rec.Revision,
			State:     State(rec.State),
			Evidence:  ev,
			UpdatedAt: rec.UpdatedAt,
		},
		ID:      rec.ID,
		Version: rec.Version,
	}, nil
}

func toFileRecord(s StoredStatus) fileRecord {
	encoded := ""
	if !s.Evidence.IsZero() {
		encoded = evidence.Encode(s.Evidence)
	}
	return fileRecord{
		ID:        s.ID,
		Gate:      s.Gate,
		Revision:  s.Revision,
		State:     string(s.State),
		Evidence:  encoded,
		UpdatedAt: s.UpdatedAt.UTC(),
		Version:   s.Version,
	}
}
