package statetable

import (
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zexplore/fingerprint"
	"zexplore/stats"
	"zexplore/storage"
)

func fp(i uint64) fingerprint.Fingerprint {
	return fingerprint.Fingerprint{Hi: i * 31, Lo: i}
}

var visitTests = []struct {
	name     string
	first    Entry
	second   Entry
	expected Verdict
	stored   Entry
}{
	{"same bounds", Entry{Depth: 3, Delay: 1}, Entry{Depth: 3, Delay: 1, Iteration: 2}, Pruned, Entry{Depth: 3, Delay: 1}},
	{"deeper", Entry{Depth: 3, Delay: 1}, Entry{Depth: 4, Delay: 1}, Pruned, Entry{Depth: 3, Delay: 1}},
	{"shallower", Entry{Depth: 3, Delay: 1}, Entry{Depth: 2, Delay: 1, Iteration: 1}, Improved, Entry{Depth: 2, Delay: 1, Iteration: 1}},
	{"fewer delays deeper", Entry{Depth: 3, Delay: 1}, Entry{Depth: 9, Delay: 0}, Improved, Entry{Depth: 9, Delay: 0}},
	{"more delays shallower", Entry{Depth: 3, Delay: 1}, Entry{Depth: 1, Delay: 2}, Pruned, Entry{Depth: 3, Delay: 1}},
}

func testVisits(t *testing.T, create func() Table) {
	for _, test := range visitTests {
		t.Run(test.name, func(t *testing.T) {
			table := create()
			defer table.Close()
			v, err := table.Visit(fp(1), test.first)
			require.NoError(t, err)
			assert.Equal(t, New, v)
			v, err = table.Visit(fp(1), test.second)
			require.NoError(t, err)
			assert.Equal(t, test.expected, v)

			e, ok, err := table.Get(fp(1))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, test.stored, e)
			assert.Equal(t, 1, table.Len())

			_, ok, err = table.Get(fp(2))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// Several goroutines visit overlapping sets of states. Every state is new exactly once.
func testConcurrentVisits(t *testing.T, table Table) {
	const numWorkers, numStates = 8, 500
	news := make([]int, numWorkers)
	wg := sync.WaitGroup{}
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < numStates; i++ {
				v, err := table.Visit(fp(uint64((i+w*7)%numStates)), Entry{Depth: 1})
				if err != nil {
					t.Error(err)
					return
				}
				if v == New {
					news[w]++
				}
			}
		}(w)
	}
	wg.Wait()
	total := 0
	for _, n := range news {
		total += n
	}
	if total != numStates {
		t.Errorf("Unexpected number of new states. Got %v. Expected %v", total, numStates)
	}
	if table.Len() != numStates {
		t.Errorf("Unexpected size of the table. Got %v. Expected %v", table.Len(), numStates)
	}
}

func TestMemoryVisit(t *testing.T) {
	testVisits(t, func() Table { return NewMemory() })
}

func TestMemoryConcurrentVisits(t *testing.T) {
	testConcurrentVisits(t, NewMemory())
}

func TestBadgerVisit(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	testVisits(t, func() Table { return NewBadger(db, "states/") })
}

func TestBadgerConcurrentVisits(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	testConcurrentVisits(t, NewBadger(db, "states/"))
}

func TestEntryCodec(t *testing.T) {
	e := Entry{Depth: 300, Delay: 2, Iteration: 70000}
	decoded, err := decodeEntry(encodeEntry(e))
	require.NoError(t, err)
	assert.Equal(t, e, decoded)

	_, err = decodeEntry(encodeEntry(e)[:2])
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestTieredVisit(t *testing.T) {
	testVisits(t, func() Table { return NewTiered(TieredOptions{}) })
}

func TestTieredSpill(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	st := stats.New()
	table := NewTiered(TieredOptions{
		MaxMemory: 1,
		Spill:     NewBadger(db, "spill/"),
		Usage:     func() uint64 { return 2 },
		Stats:     st,
	})
	defer table.Close()

	for i := 0; i < checkInterval-1; i++ {
		v, err := table.Visit(fp(uint64(i)), Entry{Depth: 5, Delay: 1})
		require.NoError(t, err)
		require.Equal(t, New, v)
	}
	assert.Equal(t, checkInterval-1, table.mem.Len())

	// The next visit finds the memory use too high
	v, err := table.Visit(fp(0), Entry{Depth: 5, Delay: 1})
	require.NoError(t, err)
	assert.Equal(t, Pruned, v, "the spilled entry is still found")
	assert.Equal(t, 0, table.mem.Len())
	assert.Equal(t, int64(checkInterval-1), st.Evicted.Load())
	assert.Equal(t, checkInterval-1, table.Len())

	v, err = table.Visit(fp(1), Entry{Depth: 4, Delay: 1})
	require.NoError(t, err)
	assert.Equal(t, Improved, v)
	e, ok, err := table.Get(fp(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Entry{Depth: 4, Delay: 1}, e)
	assert.Equal(t, 0, table.mem.Len(), "an improved spilled state stays in the spill table")
	assert.Equal(t, checkInterval-1, table.Len())

	v, err = table.Visit(fp(checkInterval), Entry{})
	require.NoError(t, err)
	assert.Equal(t, New, v)
	assert.Equal(t, checkInterval, table.Len())
}

func TestTieredEvictDuringVisits(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	table := NewTiered(TieredOptions{
		Spill:  NewBadger(db, "spill/"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer table.Close()

	const numStates = 512
	for i := 0; i < numStates; i++ {
		_, err := table.Visit(fp(uint64(i)), Entry{Depth: 2})
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	evicted := make(chan error, 1)
	go func() {
		var err error
		for err == nil {
			select {
			case <-stop:
				evicted <- nil
				return
			default:
			}
			err = table.Evict()
			// New states keep the memory tier busy
			_, err2 := table.Visit(fp(uint64(numStates+rand.IntN(numStates))), Entry{Depth: 2})
			err = errors.Join(err, err2)
		}
		evicted <- err
	}()

	wg := sync.WaitGroup{}
	explored := atomic.Int64{}
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 4; round++ {
				for i := 0; i < numStates; i++ {
					v, err := table.Visit(fp(uint64(i)), Entry{Depth: 2})
					if err != nil || v != Pruned {
						explored.Add(1)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	require.NoError(t, <-evicted)
	assert.Equal(t, int64(0), explored.Load(), "a recorded state must never be explored again")

	unique := map[fingerprint.Fingerprint]bool{}
	for i := 0; i < 2*numStates; i++ {
		if _, ok, _ := table.Get(fp(uint64(i))); ok {
			unique[fp(uint64(i))] = true
		}
	}
	assert.Equal(t, len(unique), table.Len(), "every state is counted once")
}

func TestTieredDrop(t *testing.T) {
	table := NewTiered(TieredOptions{})
	_, err := table.Visit(fp(1), Entry{Depth: 1})
	require.NoError(t, err)
	require.NoError(t, table.Evict())
	assert.Equal(t, 0, table.Len())

	v, err := table.Visit(fp(1), Entry{Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, New, v, "a dropped state is explored again")
	assert.Equal(t, int64(1), table.opts.Stats.Evicted.Load())
}
