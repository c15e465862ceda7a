package frontier

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"zexplore/scheduler"
)

// Collects the trace frontiers of one iteration
type Store interface {
	Put(f *TraceFrontier) error
	Len() int
	// Pass every frontier to the function in insertion order and empty the store.
	// Stops at the first error returned by the function.
	Drain(f func(*TraceFrontier) error) error
	Close() error
}

type MemoryStore struct {
	mu        sync.Mutex
	frontiers []*TraceFrontier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Put(f *TraceFrontier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frontiers = append(s.frontiers, f)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frontiers)
}

func (s *MemoryStore) Drain(f func(*TraceFrontier) error) error {
	s.mu.Lock()
	frontiers := s.frontiers
	s.frontiers = nil
	s.mu.Unlock()
	for _, frontier := range frontiers {
		if err := f(frontier); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Keeps serialized frontiers in a badger database under a key prefix.
//
// Several stores can share a database as long as their prefixes differ. The database is not closed by the store.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	policy scheduler.Policy
	seq    atomic.Uint64
	count  atomic.Int64
}

// Create a store in the database. The policy decodes the scheduler states of the frontiers, nil if none is used.
func NewBadgerStore(db *badger.DB, prefix string, policy scheduler.Policy) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: []byte(prefix),
		policy: policy,
	}
}

func (s *BadgerStore) key(seq uint64) []byte {
	key := make([]byte, 0, len(s.prefix)+8)
	key = append(key, s.prefix...)
	return binary.BigEndian.AppendUint64(key, seq)
}

func (s *BadgerStore) Put(f *TraceFrontier) error {
	value, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	key := s.key(s.seq.Add(1))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("frontier: store frontier: %w", err)
	}
	s.count.Add(1)
	return nil
}

func (s *BadgerStore) Len() int {
	return int(s.count.Load())
}

func (s *BadgerStore) Drain(f func(*TraceFrontier) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			frontier, err := UnmarshalTraceFrontier(value, s.policy)
			if err != nil {
				return err
			}
			if err := f(frontier); err != nil {
				return err
			}
		}
		return nil
	})
	if dropErr := s.db.DropPrefix(s.prefix); err == nil && dropErr != nil {
		err = fmt.Errorf("frontier: drop frontiers: %w", dropErr)
	}
	s.count.Store(0)
	return err
}

func (s *BadgerStore) Close() error {
	return s.db.DropPrefix(s.prefix)
}
