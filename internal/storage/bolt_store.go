// Package storage persists finished run summaries.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"netdash/internal/runner"
)

const (
	BucketRuns = "runs"
	BucketIDs  = "run_ids"
	fileName   = "history.db"
)

var ErrNotFound = errors.New("run not found")

// Record is one persisted run.
type Record struct {
	Summary runner.Summary  `json:"summary"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Store keeps records in a bbolt file ordered by finish time.
type Store struct {
	db *bbolt.DB
}

// Open creates dir if needed and opens the history database inside it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, fileName), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketIDs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DefaultDir is $HOME/.netdash.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".netdash"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores the summary of a finished run together with its effective config.
func (s *Store) Save(sum runner.Summary, cfg runner.Config) error {
	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Record{Summary: sum, Config: rawCfg})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(BucketIDs))
		runs := tx.Bucket([]byte(BucketRuns))

		if old := ids.Get([]byte(sum.SessionID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}
		key := recordKey(sum)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(sum.SessionID), key)
	})
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Record, error) {
	var items []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item Record
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode %x: %w", k, err)
			}
			items = append(items, item)
			if limit > 0 && len(items) == limit {
				break
			}
		}
		return nil
	})

	return items, err
}

func (s *Store) Get(id string) (Record, error) {
	var item Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(BucketIDs)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		v := tx.Bucket([]byte(BucketRuns)).Get(key)
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &item)
	})
	return item, err
}

// recordKey orders records by finish time; the ID suffix keeps keys unique.
func recordKey(sum runner.Summary) []byte {
	ts := sum.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	key := make([]byte, 8, 8+len(sum.SessionID))
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return append(key, sum.SessionID...)
}
