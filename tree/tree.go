package tree

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// A tree whose children are indexed by key.
//
// The child map of every node is guarded by its own lock, so children can be added and removed
// under the same parent from several goroutines. The payload, parent, key and depth of a node never change.
type Tree[K comparable, T any] struct {
	key     K
	payload T
	parent  *Tree[K, T]
	depth   int
	// insertion order among the siblings
	seq int

	mu       sync.RWMutex
	children map[K]*Tree[K, T]
	nextSeq  int
}

func New[K comparable, T any](key K, payload T) *Tree[K, T] {
	return &Tree[K, T]{
		key:      key,
		payload:  payload,
		children: map[K]*Tree[K, T]{},
	}
}

// Returns the total number of elements in the tree
func (t *Tree[K, T]) Len() int {
	len := 1
	for _, child := range t.Children() {
		len += child.Len()
	}
	return len
}

// Adds a child with the key and payload unless a child with the key already exists.
// Returns the child stored under the key and whether it was added by this call.
func (t *Tree[K, T]) AddChild(key K, payload T) (*Tree[K, T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if child, ok := t.children[key]; ok {
		return child, false
	}
	treeNode := &Tree[K, T]{
		key:      key,
		payload:  payload,
		parent:   t,
		depth:    t.depth + 1,
		seq:      t.nextSeq,
		children: map[K]*Tree[K, T]{},
	}
	t.nextSeq++
	t.children[key] = treeNode
	return treeNode, true
}

// Removes the child with the key from the children of the tree.
// The removed subtree keeps its parent pointer, so it can still reach its ancestors.
func (t *Tree[K, T]) RemoveChild(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.children[key]; !ok {
		return false
	}
	delete(t.children, key)
	return true
}

// Removes the tree from the children of its parent
func (t *Tree[K, T]) Detach() bool {
	if t.parent == nil {
		return false
	}
	return t.parent.RemoveChild(t.key)
}

// String representation of a TreeNode
func (t *Tree[K, T]) String() string {
	out := strings.Builder{}
	for i := 0; i < t.Depth(); i++ {
		out.WriteString("-")
	}
	out.WriteString(fmt.Sprintf("%v\n", t.Payload()))
	for _, child := range t.Children() {
		out.WriteString(fmt.Sprintf("%v", child))
	}
	return out.String()
}

func (t *Tree[K, T]) IsRoot() bool {
	return t.Parent() == nil
}

// Returns the ancestor of the tree at the depth. Returns nil if depth is larger than the depth of the tree.
func (t *Tree[K, T]) Ancestor(depth int) *Tree[K, T] {
	if depth > t.depth || depth < 0 {
		return nil
	}
	n := t
	for n.depth > depth {
		n = n.parent
	}
	return n
}

// Returns the deepest node that is an ancestor of both a and b (a node is its own ancestor).
// Returns nil if the nodes are in different trees.
func LowestCommonAncestor[K comparable, T any](a, b *Tree[K, T]) *Tree[K, T] {
	if a == nil || b == nil {
		return nil
	}
	if a.depth > b.depth {
		a = a.Ancestor(b.depth)
	} else {
		b = b.Ancestor(a.depth)
	}
	for a != b {
		if a.parent == nil || b.parent == nil {
			return nil
		}
		a, b = a.parent, b.parent
	}
	return a
}

func (t *Tree[K, T]) Key() K {
	return t.key
}

func (t *Tree[K, T]) Payload() T {
	return t.payload
}

func (t *Tree[K, T]) Parent() *Tree[K, T] {
	return t.parent
}

func (t *Tree[K, T]) Depth() int {
	return t.depth
}

// Returns a snapshot of the children in insertion order
func (t *Tree[K, T]) Children() []*Tree[K, T] {
	t.mu.RLock()
	children := make([]*Tree[K, T], 0, len(t.children))
	for _, child := range t.children {
		children = append(children, child)
	}
	t.mu.RUnlock()
	sort.Slice(children, func(i, j int) bool { return children[i].seq < children[j].seq })
	return children
}

// Newick representation of the tree, with the payloads as quoted labels
func (t *Tree[K, T]) Newick() string {
	out := strings.Builder{}
	children := t.Children()
	if len(children) > 0 {
		out.WriteString("(")
		for i, child := range children {
			if i > 0 {
				out.WriteString(",")
			}
			out.WriteString(child.Newick())
		}
		out.WriteString(")")
	}
	out.WriteString(fmt.Sprintf("\"%v\"", t.Payload()))
	if t.IsRoot() {
		out.WriteString(";")
	}
	return out.String()
}
