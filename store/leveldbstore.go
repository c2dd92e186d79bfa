package store

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
)

// LevelDBStore is the persistent Store variant, backed by
// github.com/syndtr/goleveldb — the same on-disk key-value engine the
// teacher's ethdb package uses for its durable database.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens (creating if absent) a LevelDB database at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(key string) ([]byte, bool, error) {
	v, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == errors.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (s *LevelDBStore) Put(key string, value []byte) error {
	return s.db.Put([]byte(key), value, nil)
}

// CompareAndSwap takes the database's per-key lock semantics from
// goleveldb's batch/transaction support: the whole check-then-set runs
// inside a single leveldb.Transaction so no other writer can observe or
// interleave with the intermediate state.
func (s *LevelDBStore) CompareAndSwap(key string, old, new []byte) (bool, error) {
	txn, err := s.db.OpenTransaction()
	if err != nil {
		return false, err
	}

	cur, err := txn.Get([]byte(key), nil)
	exists := true
	if err != nil {
		if err != errors.ErrNotFound {
			txn.Discard()
			return false, err
		}
		exists = false
	}

	switch {
	case old == nil && exists:
		txn.Discard()
		return false, nil
	case old != nil && !exists:
		txn.Discard()
		return false, nil
	case old != nil && exists && !bytes.Equal(cur, old):
		txn.Discard()
		return false, nil
	}

	if new == nil {
		if err := txn.Delete([]byte(key), nil); err != nil {
			txn.Discard()
			return false, err
		}
	} else if err := txn.Put([]byte(key), new, nil); err != nil {
		txn.Discard()
		return false, err
	}

	if err := txn.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
