package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"profile-indexer/domain"
)

var entryPrefix = []byte("idx/")

// badgerEntry is the msgpack form of an index entry.
type badgerEntry struct {
	Vector         []float32 `msgpack:"v"`
	Fingerprint    string    `msgpack:"fp"`
	EncoderVersion string    `msgpack:"ver"`
	UpdatedAt      time.Time `msgpack:"at"`
}

// BadgerStore implements the domain.IndexStore interface on an embedded
// badger database. It needs no server and suits single-node deployments.
type BadgerStore struct {
	db *badger.DB
}

var _ domain.IndexStore = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) the store in dir. An empty dir keeps the
// store in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger index at %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func entryKey(profileID int64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], uint64(profileID))
	return key
}

func profileIDFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(entryPrefix):]))
}

func readEntry(txn *badger.Txn, profileID int64) (domain.IndexEntry, bool, error) {
	item, err := txn.Get(entryKey(profileID))
	if err == badger.ErrKeyNotFound {
		return domain.IndexEntry{}, false, nil
	}
	if err != nil {
		return domain.IndexEntry{}, false, err
	}
	var rec badgerEntry
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &rec)
	}); err != nil {
		return domain.IndexEntry{}, false, fmt.Errorf("decode index entry %d: %w", profileID, err)
	}
	return domain.IndexEntry{
		ProfileID:      profileID,
		Vector:         domain.Embedding(rec.Vector),
		Fingerprint:    domain.Fingerprint(rec.Fingerprint),
		EncoderVersion: rec.EncoderVersion,
		UpdatedAt:      rec.UpdatedAt,
	}, true, nil
}

func (s *BadgerStore) Get(_ context.Context, profileID int64) (domain.IndexEntry, bool, error) {
	var (
		entry domain.IndexEntry
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, found, err = readEntry(txn, profileID)
		return err
	})
	if err != nil {
		return domain.IndexEntry{}, false, fmt.Errorf("get index entry %d: %w", profileID, err)
	}
	return entry, found, nil
}

// GetMany reads all ids in one read transaction.
func (s *BadgerStore) GetMany(_ context.Context, profileIDs []int64) (map[int64]domain.IndexEntry, error) {
	out := make(map[int64]domain.IndexEntry, len(profileIDs))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range profileIDs {
			e, ok, err := readEntry(txn, id)
			if err != nil {
				return err
			}
			if ok {
				out[id] = e
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get index entries: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Upsert(_ context.Context, entry domain.IndexEntry) error {
	data, err := msgpack.Marshal(&badgerEntry{
		Vector:         entry.Vector,
		Fingerprint:    string(entry.Fingerprint),
		EncoderVersion: entry.EncoderVersion,
		UpdatedAt:      entry.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode index entry %d: %w", entry.ProfileID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.ProfileID), data)
	})
}

func (s *BadgerStore) Delete(_ context.Context, profileID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(profileID))
	})
}

func (s *BadgerStore) Count(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) CountByVersion(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec badgerEntry
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode index entry %d: %w", profileIDFromKey(item.Key()), err)
			}
			counts[rec.EncoderVersion]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
