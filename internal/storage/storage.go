// Package storage provides persistent data storage for the severity prediction server.
// It uses BoltDB as the underlying storage engine for the prediction history log
// and the registered user set.
//
// BoltDB allows a single writer at a time, so history appends from concurrent
// requests are serialized by the database itself and never lost.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"rasp/internal/features"

	"go.etcd.io/bbolt"
)

const (
	historyBucket = "history" // Bucket name for prediction history, keyed by sequence
	usersBucket   = "users"   // Bucket name for user records, keyed by email

	dbFile = "rasp-data.db"
)

// ErrUserExists is returned by AddUser when the email is already registered.
var ErrUserExists = errors.New("user already exists")

// HistoryEntry is one successful prediction. Entries are written once and never
// modified or removed.
type HistoryEntry struct {
	ID         string             `json:"id"`
	Input      features.RawRecord `json:"input"`
	Processed  features.Snapshot  `json:"processed"`
	Prediction float64            `json:"prediction"`
	Timestamp  time.Time          `json:"timestamp"`
}

// UserRecord is a registered account. Only a salted hash of the password is kept.
type UserRecord struct {
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store provides persistent storage using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(historyBucket)); err != nil {
			return fmt.Errorf("create history bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(usersBucket)); err != nil {
			return fmt.Errorf("create users bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.db.Path()
}

// AppendHistory adds an entry to the end of the history log. The key is the
// bucket's next sequence number, big-endian, so cursor order is append order.
func (s *Store) AppendHistory(entry HistoryEntry) error {
	return s.AppendHistoryBatch([]HistoryEntry{entry})
}

// AppendHistoryBatch appends entries in order within a single transaction.
// Either all of them are written or none are.
func (s *Store) AppendHistoryBatch(entries []HistoryEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(historyBucket))
		for _, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshal history entry %s: %w", entry.ID, err)
			}
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("next history sequence: %w", err)
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns every history entry in append order.
func (s *Store) History() ([]HistoryEntry, error) {
	entries := []HistoryEntry{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(historyBucket)).ForEach(func(k, v []byte) error {
			var e HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode history entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// HistoryCount returns the number of stored history entries.
func (s *Store) HistoryCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(historyBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// FindUser looks up a user by email. The boolean is false when no user is registered
// under that email.
func (s *Store) FindUser(email string) (UserRecord, bool, error) {
	var (
		u     UserRecord
		found bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(usersBucket)).Get([]byte(email))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &u); err != nil {
			return fmt.Errorf("decode user %s: %w", email, err)
		}
		found = true
		return nil
	})

	return u, found, err
}

// AddUser stores a new user. The existence check and the write share one
// transaction, so two registrations for the same email cannot both succeed.
func (s *Store) AddUser(u UserRecord) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(usersBucket))
		if b.Get([]byte(u.Email)) != nil {
			return ErrUserExists
		}
		return b.Put([]byte(u.Email), data)
	})
}

// UserCount returns the number of registered users.
func (s *Store) UserCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(usersBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
