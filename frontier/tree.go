package frontier

import (
	"fmt"

	"zexplore/fingerprint"
	"zexplore/scheduler"
	"zexplore/state"
	"zexplore/traversal"
	"zexplore/tree"
)

// What a tree node needs to rebuild its state from the state of its tree parent
type Entry struct {
	// The steps from the tree parent
	Segment state.Trace
	Bounds  traversal.Bounds
	Sched   *scheduler.Handle
	Delays  int
}

func (e *Entry) String() string {
	return fmt.Sprintf("%v %v", e.Bounds, e.Segment)
}

// A frontier in a Tree. Children are keyed by the fingerprint of their state.
type Node = tree.Tree[fingerprint.Fingerprint, *Entry]

// Frontiers stored as a tree of segments.
//
// The tree is shared by all workers. Children are added and disposed under the lock of their parent,
// so workers can insert under the same parent concurrently.
type Tree struct {
	root *Node
}

func NewTree() *Tree {
	return &Tree{
		root: tree.New[fingerprint.Fingerprint, *Entry](fingerprint.Fingerprint{}, &Entry{}),
	}
}

func (t *Tree) Root() *Node {
	return t.root
}

// Number of frontiers in the tree, including the root
func (t *Tree) Len() int {
	return t.root.Len()
}

// Newick representation of the frontiers in the tree
func (t *Tree) Newick() string {
	return t.root.Newick()
}

// Remove the frontier from its parent. Its descendants are not disposed.
func (t *Tree) Dispose(n *Node) {
	n.Detach()
}

type frame struct {
	node *Node
	tn   *traversal.Node
	// The traversal node has been returned by Materialize and may have been advanced since
	used bool
}

// The replay state of one worker in a Tree.
//
// The cursor keeps the traversal nodes of the path from the root to the most recently materialized frontier.
// frames[i] holds the tree node at depth i.
type Cursor struct {
	tree   *Tree
	sess   *traversal.Session
	frames []frame
	// The scheduler state of the root before it was explored
	rootSched *scheduler.Handle
}

// Create the cursor of the worker owning the session. The cursor starts at the root of the tree.
func (t *Tree) NewCursor(sess *traversal.Session) *Cursor {
	root := sess.Root()
	c := &Cursor{
		tree:   t,
		sess:   sess,
		frames: []frame{{node: t.root, tn: root}},
	}
	if root.Scheduler() != nil {
		c.rootSched = root.Scheduler().Clone()
	}
	return c
}

func (c *Cursor) top() *frame {
	return &c.frames[len(c.frames)-1]
}

func (c *Cursor) pop() {
	c.frames = c.frames[:len(c.frames)-1]
}

// Rebuild the traversal node of the frontier.
//
// The cursor replays only the segments between the lowest common ancestor of the previous request and the frontier:
// nothing if the frontier was the previous request, one segment for a sibling of the previous request.
func (c *Cursor) Materialize(target *Node) (*traversal.Node, error) {
	top := c.top()
	switch {
	case top.node == target:
	case target.Parent() != nil && len(c.frames) > 1 && target.Parent() == c.frames[len(c.frames)-2].node:
		c.pop()
		if err := c.push(target); err != nil {
			return nil, err
		}
	default:
		if err := c.walk(target); err != nil {
			return nil, err
		}
	}
	return c.handOut()
}

// Move the cursor to the target through the lowest common ancestor
func (c *Cursor) walk(target *Node) error {
	lca := tree.LowestCommonAncestor(c.top().node, target)
	if lca == nil {
		return fmt.Errorf("frontier: %v is not in the tree of the cursor", target.Payload())
	}
	c.frames = c.frames[:lca.Depth()+1]
	for depth := lca.Depth() + 1; depth <= target.Depth(); depth++ {
		if err := c.push(target.Ancestor(depth)); err != nil {
			return err
		}
	}
	return nil
}

// Replay the segment of a child of the top frame and push it
func (c *Cursor) push(child *Node) error {
	e := child.Payload()
	tn, err := c.top().tn.Extend(e.Segment, e.Bounds, e.Sched, e.Delays)
	if err != nil {
		return fmt.Errorf("frontier: replay %v: %w", e, err)
	}
	c.frames = append(c.frames, frame{node: child, tn: tn})
	return nil
}

// Returns the traversal node of the top frame. A node that was returned before may have been explored,
// so it is replaced by a fresh node for the same state.
func (c *Cursor) handOut() (*traversal.Node, error) {
	top := c.top()
	if !top.used {
		top.used = true
		return top.tn, nil
	}
	e := top.node.Payload()
	sched := e.Sched
	if len(c.frames) == 1 {
		sched = c.rootSched
	}
	tn, err := top.tn.Extend(state.Trace{}, e.Bounds, sched, e.Delays)
	if err != nil {
		return nil, err
	}
	top.tn = tn
	return tn, nil
}

// Add the traversal node as a child of the most recently materialized frontier.
//
// The node must have been reached from the traversal node returned by the last Materialize.
// Returns the frontier stored under the fingerprint of the node and whether it was added by this call.
func (c *Cursor) Insert(tn *traversal.Node) (*Node, bool) {
	top := c.top()
	trace := tn.Trace()
	e := &Entry{
		Segment: trace[top.tn.Depth():].Clone(),
		Bounds:  tn.Bounds(),
		Delays:  tn.Delays(),
	}
	if tn.Scheduler() != nil {
		e.Sched = tn.Scheduler().CloneForFrontier()
	}
	return top.node.AddChild(tn.StateFingerprint(), e)
}

// The frontier the cursor currently points at
func (c *Cursor) Current() *Node {
	return c.top().node
}
