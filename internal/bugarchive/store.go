package bugarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

// Record is one archived bug with its comment texts.
type Record struct {
	schema.Bug
	Summary  string   `json:"summary,omitempty"`
	Comments []string `json:"comments"`
}

// Store keeps bug records as one JSON file per bug. It serves as the
// duplicate finder's tracker.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs an archive at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs an archive with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("archive_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads a bug record from disk.
func (s *Store) Load(id int) (Record, bool, error) {
	if id <= 0 {
		return Record{}, false, fmt.Errorf("bug %d: %w", id, schema.ErrInvalidBug)
	}
	path := s.pathForBug(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("archive load miss", "bug", id)
			}
			return Record{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("archive load failed", "bug", id, "err", err)
		}
		return Record{}, false, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		if s.log != nil {
			s.log.Warn("archive load failed", "bug", id, "err", err)
		}
		return Record{}, false, err
	}
	record.ID = id
	if s.log != nil {
		s.log.Debug("archive load ok", "bug", id, "comments", len(record.Comments))
	}
	return record, true, nil
}

// Save writes a bug record to disk atomically.
func (s *Store) Save(record Record) error {
	if record.ID <= 0 {
		return fmt.Errorf("bug %d: %w", record.ID, schema.ErrInvalidBug)
	}
	path := s.pathForBug(record.ID)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		if s.log != nil {
			s.log.Warn("archive save failed", "bug", record.ID, "err", err)
		}
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		if s.log != nil {
			s.log.Warn("archive save failed", "bug", record.ID, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("archive save ok", "bug", record.ID, "comments", len(record.Comments))
	}
	return nil
}

// List returns every archived bug ordered by id.
func (s *Store) List() ([]schema.Bug, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var bugs []schema.Bug
	for _, entry := range entries {
		id, ok := bugIDFromName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		record, found, err := s.Load(id)
		if err != nil || !found {
			continue
		}
		bugs = append(bugs, record.Bug)
	}
	sort.Slice(bugs, func(i, j int) bool { return bugs[i].ID < bugs[j].ID })
	return bugs, nil
}

// Bug returns the archived bug or schema.ErrBugNotFound.
func (s *Store) Bug(ctx context.Context, id int) (schema.Bug, error) {
	record, err := s.record(ctx, id)
	if err != nil {
		return schema.Bug{}, err
	}
	return record.Bug, nil
}

// Comments returns the archived comment texts of a bug.
func (s *Store) Comments(ctx context.Context, id int) ([]string, error) {
	record, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	return record.Comments, nil
}

func (s *Store) record(ctx context.Context, id int) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	record, ok, err := s.Load(id)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, fmt.Errorf("bug %d: %w", id, schema.ErrBugNotFound)
	}
	return record, nil
}

func (s *Store) pathForBug(id int) string {
	return filepath.Join(s.dir, "bug-"+strconv.Itoa(id)+".json")
}

func bugIDFromName(name string) (int, bool) {
	if !strings.HasPrefix(name, "bug-") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "bug-"), ".json"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "bug-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
