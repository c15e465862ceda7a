package statetable

import (
	"sync"

	"zexplore/fingerprint"
)

const numShards = 64

type shard struct {
	sync.Mutex
	entries map[fingerprint.Fingerprint]Entry
}

// A table held in memory, split into shards that are locked independently
type Memory struct {
	shards [numShards]shard
}

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i].entries = map[fingerprint.Fingerprint]Entry{}
	}
	return m
}

func (m *Memory) shard(fp fingerprint.Fingerprint) *shard {
	return &m.shards[fp.Lo%numShards]
}

func (m *Memory) Visit(fp fingerprint.Fingerprint, e Entry) (Verdict, error) {
	s := m.shard(fp)
	s.Lock()
	defer s.Unlock()
	old, ok := s.entries[fp]
	v := decide(old, ok, e)
	if v != Pruned {
		s.entries[fp] = e
	}
	return v, nil
}

func (m *Memory) Get(fp fingerprint.Fingerprint) (Entry, bool, error) {
	s := m.shard(fp)
	s.Lock()
	defer s.Unlock()
	e, ok := s.entries[fp]
	return e, ok, nil
}

func (m *Memory) Len() int {
	size := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.Lock()
		size += len(s.entries)
		s.Unlock()
	}
	return size
}

// Remove every entry and pass it to the function. Shards are emptied one at a time,
// so visits to other shards can proceed during the drain.
func (m *Memory) Drain(f func(fingerprint.Fingerprint, Entry) error) error {
	for i := range m.shards {
		s := &m.shards[i]
		s.Lock()
		entries := s.entries
		s.entries = make(map[fingerprint.Fingerprint]Entry, len(entries)/2)
		s.Unlock()
		for fp, e := range entries {
			if err := f(fp, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
