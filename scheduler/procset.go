package scheduler

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// A sorted set of process ids
type procSet []int

func (ps procSet) contains(pid int) bool {
	_, ok := slices.BinarySearch(ps, pid)
	return ok
}

func (ps procSet) add(pid int) procSet {
	i, ok := slices.BinarySearch(ps, pid)
	if ok {
		return ps
	}
	return slices.Insert(ps, i, pid)
}

func (ps procSet) remove(pid int) procSet {
	i, ok := slices.BinarySearch(ps, pid)
	if !ok {
		return ps
	}
	return slices.Delete(ps, i, i+1)
}

// The smallest element greater than pid, wrapping around to the smallest element.
// Returns false if the set is empty.
func (ps procSet) after(pid int) (int, bool) {
	if len(ps) == 0 {
		return 0, false
	}
	i, ok := slices.BinarySearch(ps, pid)
	if ok {
		i++
	}
	if i >= len(ps) {
		return ps[0], true
	}
	return ps[i], true
}

func (ps procSet) clone() procSet {
	return slices.Clone(ps)
}

// Removes the first occurrence of v from the slice, keeping the relative order of the other elements
func removeOrdered[T comparable](s []T, v T) ([]T, bool) {
	i := slices.Index(s, v)
	if i < 0 {
		return s, false
	}
	return slices.Delete(s, i, i+1), true
}

func maxOf[T constraints.Ordered](vs ...T) T {
	var m T
	for i, v := range vs {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}
