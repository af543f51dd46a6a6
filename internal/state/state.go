package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	ProgressBucket = []byte("progress")
	MetadataBucket = []byte("metadata")
)

var progressKey = []byte("current")

// Store keeps local replication progress for operator visibility. The
// server-side slot owns resumption; nothing here ever feeds the start
// position of a stream.
type Store struct {
	db *bolt.DB
}

// Progress is a snapshot of how far the ingester has acknowledged.
type Progress struct {
	AckedLSN         uint64    `json:"acked_lsn"`
	EventsPublished  uint64    `json:"events_published"`
	Reconnects       uint64    `json:"reconnects"`
	SessionStartedAt time.Time `json:"session_started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ProgressBucket, MetadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
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

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordAck stores the latest acknowledged LSN and adds the number of
// events published since the last acknowledgement.
func (s *Store) RecordAck(lsn uint64, published uint64) error {
	return s.update(func(p *Progress) {
		p.AckedLSN = lsn
		p.EventsPublished += published
	})
}

// RecordReconnect bumps the stream rebuild counter.
func (s *Store) RecordReconnect() error {
	return s.update(func(p *Progress) {
		p.Reconnects++
	})
}

// RecordSessionStart remembers when the current stream was opened.
func (s *Store) RecordSessionStart(at time.Time) error {
	return s.update(func(p *Progress) {
		p.SessionStartedAt = at
	})
}

// Progress reads the current snapshot. A store that has never been written
// returns the zero snapshot.
func (s *Store) Progress() (*Progress, error) {
	var progress Progress

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(ProgressBucket).Get(progressKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &progress)
	})
	if err != nil {
		return nil, err
	}

	return &progress, nil
}

func (s *Store) update(mutate func(*Progress)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ProgressBucket)

		var progress Progress
		if data := bucket.Get(progressKey); data != nil {
			if err := json.Unmarshal(data, &progress); err != nil {
				return fmt.Errorf("failed to unmarshal progress: %w", err)
			}
		}

		mutate(&progress)
		progress.UpdatedAt = time.Now()

		data, err := json.Marshal(&progress)
		if err != nil {
			return fmt.Errorf("failed to marshal progress: %w", err)
		}
		return bucket.Put(progressKey, data)
	})
}

func (s *Store) SetMetadata(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(MetadataBucket)
		return bucket.Put([]byte(key), []byte(value))
	})
}

func (s *Store) GetMetadata(key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(MetadataBucket)
		data := bucket.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("metadata key not found: %s", key)
		}
		value = string(data)
		return nil
	})

	return value, err
}
