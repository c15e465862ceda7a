package statetable

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"zexplore/fingerprint"
)

var ErrCorruptEntry = errors.New("statetable: corrupt entry")

// A table stored in a badger database under a key prefix. The database is not closed by the table.
type Badger struct {
	db     *badger.DB
	prefix []byte
}

func NewBadger(db *badger.DB, prefix string) *Badger {
	return &Badger{db: db, prefix: []byte(prefix)}
}

func (b *Badger) key(fp fingerprint.Fingerprint) []byte {
	key := make([]byte, 0, len(b.prefix)+fingerprint.Size)
	key = append(key, b.prefix...)
	return append(key, fp.Bytes()...)
}

func encodeEntry(e Entry) []byte {
	out := make([]byte, 0, 3*binary.MaxVarintLen64)
	out = binary.AppendUvarint(out, uint64(e.Depth))
	out = binary.AppendUvarint(out, uint64(e.Delay))
	return binary.AppendUvarint(out, uint64(e.Iteration))
}

func decodeEntry(b []byte) (Entry, error) {
	fields := [3]int{}
	for i := range fields {
		v, n := binary.Uvarint(b)
		if n <= 0 {
			return Entry{}, fmt.Errorf("%w: field %d", ErrCorruptEntry, i)
		}
		fields[i] = int(v)
		b = b[n:]
	}
	return Entry{Depth: fields[0], Delay: fields[1], Iteration: fields[2]}, nil
}

func get(txn *badger.Txn, key []byte) (Entry, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	err = item.Value(func(val []byte) error {
		e, err = decodeEntry(val)
		return err
	})
	return e, err == nil, err
}

// Concurrent visits of the same state conflict in badger. The losing transaction is retried.
func (b *Badger) Visit(fp fingerprint.Fingerprint, e Entry) (Verdict, error) {
	key := b.key(fp)
	for {
		var v Verdict
		err := b.db.Update(func(txn *badger.Txn) error {
			old, ok, err := get(txn, key)
			if err != nil {
				return err
			}
			v = decide(old, ok, e)
			if v == Pruned {
				return nil
			}
			return txn.Set(key, encodeEntry(e))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return Pruned, fmt.Errorf("statetable: visit %v: %w", fp, err)
		}
		return v, nil
	}
}

func (b *Badger) Get(fp fingerprint.Fingerprint) (Entry, bool, error) {
	var e Entry
	var ok bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		e, ok, err = get(txn, b.key(fp))
		return err
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("statetable: get %v: %w", fp, err)
	}
	return e, ok, nil
}

// Write the entries without comparing them to the recorded ones
func (b *Badger) putAll(entries map[fingerprint.Fingerprint]Entry) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for fp, e := range entries {
		if err := wb.Set(b.key(fp), encodeEntry(e)); err != nil {
			return fmt.Errorf("statetable: spill: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("statetable: spill: %w", err)
	}
	return nil
}

// Counts the keys under the prefix
func (b *Badger) Len() int {
	size := 0
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = b.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			size++
		}
		return nil
	})
	return size
}

// Remove the entries of the table from the database
func (b *Badger) Close() error {
	return b.db.DropPrefix(b.prefix)
}
