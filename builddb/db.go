// Package builddb persists build attempt records in a bbolt database:
// one record per attempt keyed by UUID, plus an index from build name
// and version to the latest successful attempt.
package builddb

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names.
const (
	BucketBuilds = "builds"
	BucketLatest = "latest"
)

// Build attempt statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DB wraps a bbolt database of build attempts.
type DB struct {
	db   *bolt.DB
	path string
}

// BuildRecord is one build attempt.
type BuildRecord struct {
	UUID      string    `json:"uuid"`
	Build     string    `json:"build"`
	Version   string    `json:"version"`
	Status    string    `json:"status"` // "running" | "success" | "failed"
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// OpenDB opens or creates the database at path and initializes the
// required buckets.
func OpenDB(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{BucketBuilds, BucketLatest} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return &DatabaseError{Op: "create bucket", Bucket: bucket, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{db: bdb, path: path}, nil
}

// Close closes the database. Safe to call multiple times.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	return err
}

// SaveRecord stores rec keyed by its UUID.
func (db *DB) SaveRecord(rec *BuildRecord) error {
	if rec.UUID == "" {
		return &RecordError{Op: "save", Err: ErrEmptyUUID}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal", UUID: rec.UUID, Err: err}
	}

	err = db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketBuilds)).Put([]byte(rec.UUID), data)
	})
	if err != nil {
		return &RecordError{Op: "save", UUID: rec.UUID, Err: err}
	}
	return nil
}

// GetRecord loads the record with the given UUID.
func (db *DB) GetRecord(uuid string) (*BuildRecord, error) {
	if uuid == "" {
		return nil, &RecordError{Op: "get", Err: ErrEmptyUUID}
	}

	var rec *BuildRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(BucketBuilds)).Get([]byte(uuid))
		if data == nil {
			return &RecordError{Op: "get", UUID: uuid, Err: ErrRecordNotFound}
		}
		rec = &BuildRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return &RecordError{Op: "unmarshal", UUID: uuid, Err: ErrCorruptedData}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateRecordStatus sets the status and end time of an attempt; a
// successful attempt also becomes the latest for its build and version.
func (db *DB) UpdateRecordStatus(uuid, status string, endTime time.Time) error {
	rec, err := db.GetRecord(uuid)
	if err != nil {
		return err
	}

	rec.Status = status
	rec.EndTime = endTime

	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal", UUID: uuid, Err: err}
	}

	err = db.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(BucketBuilds)).Put([]byte(uuid), data); err != nil {
			return err
		}
		if status == StatusSuccess {
			key := rec.Build + "@" + rec.Version
			return tx.Bucket([]byte(BucketLatest)).Put([]byte(key), []byte(uuid))
		}
		return nil
	})
	if err != nil {
		return &RecordError{Op: "update", UUID: uuid, Err: err}
	}
	return nil
}

// LatestFor returns the latest successful attempt for build@version.
func (db *DB) LatestFor(build, version string) (*BuildRecord, error) {
	var uuid string
	err := db.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(BucketLatest)).Get([]byte(build + "@" + version))
		if data == nil {
			return &RecordError{Op: "latest", Err: ErrRecordNotFound}
		}
		uuid = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.GetRecord(uuid)
}

// RecordsFor returns every attempt recorded for the named build, in
// unspecified order.
func (db *DB) RecordsFor(build string) ([]*BuildRecord, error) {
	var records []*BuildRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketBuilds)).ForEach(func(k, v []byte) error {
			rec := &BuildRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return &RecordError{Op: "unmarshal", UUID: string(k), Err: ErrCorruptedData}
			}
			if rec.Build == build {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
