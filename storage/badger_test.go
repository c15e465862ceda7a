package storage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	})
	require.NoError(t, err)
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("key"))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		assert.Equal(t, []byte("value"), value)
		return err
	})
	assert.NoError(t, err)
}

func TestOpenWithPath(t *testing.T) {
	db, err := Open(Config{Path: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
