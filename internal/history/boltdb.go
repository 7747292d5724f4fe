package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var Buckets = struct {
	Metadata []byte
	Batches  []byte
}{
	Metadata: []byte("__metadata__"),
	Batches:  []byte("batches"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported history database version")

type Database interface {
	Close() error

	Store
}

type database struct {
	*bbolt.DB
}

// Open opens (creating if necessary) the bbolt history database at path.
func Open(path string) (_ Database, err error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Batches); err != nil {
			return err
		}

		// Get the current version of the database
		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}
		if version > currentVersion {
			return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
		}

		// Set the current version of the database
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	zap.S().Named("history").Debugf("Opened history database %v", path)
	return &database{db}, nil
}

func (d database) ListBatches() (batches []Batch, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Batches)
		return bucket.ForEach(func(k, v []byte) error {
			var batch Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return fmt.Errorf("batch %s: %w", k, err)
			} else {
				batches = append(batches, batch)
				return nil
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].StartedAt.Before(batches[j].StartedAt)
	})
	return batches, nil
}

func (d database) WriteBatch(batch *Batch) error {
	if batch.ID == "" {
		return errors.New("batch has no ID")
	}
	if data, err := json.Marshal(batch); err != nil {
		return err
	} else {
		return d.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(Buckets.Batches)
			return bucket.Put([]byte(batch.ID), data)
		})
	}
}

func (d database) DeleteBatch(id string) error {
	return d.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Batches)
		return bucket.Delete([]byte(id))
	})
}
