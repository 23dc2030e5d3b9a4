package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketConfig = []byte("config")
	keyConfig    = []byte("current")
)

// BoltStore implements ConfigStore on a BoltDB file. Every Save is a single
// fsynced transaction, so a power cut leaves either the old or the new record.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) irrigation.db inside dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "irrigation.db")

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConfig); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketConfig, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load() (entities.Config, error) {
	var cfg entities.Config
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get(keyConfig)
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil
	})
	return cfg, err
}

func (s *BoltStore) Save(cfg entities.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put(keyConfig, data)
	})
}

// putRaw overwrites the stored record with arbitrary bytes.
func (s *BoltStore) putRaw(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put(keyConfig, data)
	})
}
