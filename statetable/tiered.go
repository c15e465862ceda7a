package statetable

import (
	"log/slog"
	"runtime/metrics"
	"sync"
	"sync/atomic"

	"zexplore/fingerprint"
	"zexplore/stats"
)

// Visits between two checks of the memory use
const checkInterval = 4096

type TieredOptions struct {
	// Memory use in bytes above which the memory tier is evicted. 0 disables eviction.
	MaxMemory uint64
	// Receives the evicted entries. Nil drops them, so evicted states may be explored again.
	Spill *Badger
	// Reports the current memory use. Defaults to the bytes of live heap objects.
	Usage  func() uint64
	Stats  *stats.Stats
	Logger *slog.Logger
}

// A memory table that moves its entries to a spill table when the process uses too much memory.
//
// A state is looked up in memory first and then in the spill table. A state is recorded in one tier only:
// a spilled state stays in the spill table when it is improved.
type Tiered struct {
	mem    *Memory
	opts   TieredOptions
	visits atomic.Uint64
	// Held while the memory tier is evicted
	evicting sync.Mutex
	// Visits share the gate, an eviction holds it alone
	gate sync.RWMutex
}

func NewTiered(opts TieredOptions) *Tiered {
	if opts.Usage == nil {
		opts.Usage = heapUsage
	}
	if opts.Stats == nil {
		opts.Stats = stats.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tiered{mem: NewMemory(), opts: opts}
}

func heapUsage() uint64 {
	sample := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

func (t *Tiered) Visit(fp fingerprint.Fingerprint, e Entry) (Verdict, error) {
	if err := t.maybeEvict(); err != nil {
		return Pruned, err
	}
	t.gate.RLock()
	defer t.gate.RUnlock()
	if _, ok, _ := t.mem.Get(fp); ok || t.opts.Spill == nil {
		return t.mem.Visit(fp, e)
	}
	_, spilled, err := t.opts.Spill.Get(fp)
	if err != nil {
		return Pruned, err
	}
	if spilled {
		return t.opts.Spill.Visit(fp, e)
	}
	return t.mem.Visit(fp, e)
}

func (t *Tiered) Get(fp fingerprint.Fingerprint) (Entry, bool, error) {
	t.gate.RLock()
	defer t.gate.RUnlock()
	if e, ok, _ := t.mem.Get(fp); ok {
		return e, true, nil
	}
	if t.opts.Spill == nil {
		return Entry{}, false, nil
	}
	return t.opts.Spill.Get(fp)
}

func (t *Tiered) maybeEvict() error {
	if t.opts.MaxMemory == 0 || t.visits.Add(1)%checkInterval != 0 {
		return nil
	}
	if t.opts.Usage() <= t.opts.MaxMemory {
		return nil
	}
	return t.Evict()
}

// Move the memory tier to the spill table, or drop it if there is none
func (t *Tiered) Evict() error {
	if !t.evicting.TryLock() {
		return nil
	}
	defer t.evicting.Unlock()
	// No visit may look for an entry between the drain and the spill
	t.gate.Lock()
	defer t.gate.Unlock()
	batch := map[fingerprint.Fingerprint]Entry{}
	err := t.mem.Drain(func(fp fingerprint.Fingerprint, e Entry) error {
		batch[fp] = e
		return nil
	})
	if err != nil {
		return err
	}
	if t.opts.Spill != nil {
		if err := t.opts.Spill.putAll(batch); err != nil {
			return err
		}
	}
	if len(batch) == 0 {
		return nil
	}
	t.opts.Stats.Evicted.Add(int64(len(batch)))
	t.opts.Logger.Info("Evicted state table", "entries", len(batch), "spilled", t.opts.Spill != nil)
	return nil
}

func (t *Tiered) Len() int {
	size := t.mem.Len()
	if t.opts.Spill != nil {
		size += t.opts.Spill.Len()
	}
	return size
}

func (t *Tiered) Close() error {
	if t.opts.Spill != nil {
		return t.opts.Spill.Close()
	}
	return nil
}
