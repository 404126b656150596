package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go-meshy-generate/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

const runKeyPrefix = "run_"

// DB is the ledger of finished generations. It only records outcomes; nothing in it
// is ever used to resume or re-submit a remote job.
type DB struct {
	db *bitcask.Bitcask
	sync.RWMutex
	closeOnce sync.Once
	closeErr  error
}

// Open initializes and returns a DB instance rooted at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	log.Debugf("Opened run ledger at %s", path)
	return &DB{db: db}, nil
}

// Close closes the database; repeated calls return the first result.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.Lock()
		defer d.Unlock()
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

// RunKey builds the ledger key of one run of a batch.
func RunKey(batchID string, index int) string {
	return fmt.Sprintf("%s%s_%d", runKeyPrefix, batchID, index)
}

// Has reports whether key exists.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get returns the raw value stored under key.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	defer d.RUnlock()
	value, err := d.db.Get(key)
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key.
func (d *DB) Put(key []byte, value []byte) error {
	d.Lock()
	defer d.Unlock()
	if err := d.db.Put(key, value); err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	defer d.Unlock()
	return d.db.Delete(key)
}

// PutRun stores rec under its Key.
func (d *DB) PutRun(rec models.RunRecord) error {
	if rec.Key == "" {
		rec.Key = RunKey(rec.BatchID, rec.Index)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling run record %s: %w", rec.Key, err)
	}
	return d.Put([]byte(rec.Key), data)
}

// GetRun loads one run record.
func (d *DB) GetRun(key string) (models.RunRecord, error) {
	data, err := d.Get([]byte(key))
	if err != nil {
		return models.RunRecord{}, err
	}
	var rec models.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.RunRecord{}, fmt.Errorf("decoding run record %s: %w", key, err)
	}
	return rec, nil
}

// Runs returns every recorded run, newest first. Records that fail to decode are
// skipped with a warning.
func (d *DB) Runs() ([]models.RunRecord, error) {
	d.RLock()
	var keys []string
	err := d.db.Scan([]byte(runKeyPrefix), func(key []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	d.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("scanning run records: %w", err)
	}

	records := make([]models.RunRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := d.GetRun(key)
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable run record %s", key)
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp > records[j].Timestamp
		}
		return strings.Compare(records[i].Key, records[j].Key) < 0
	})
	return records, nil
}
