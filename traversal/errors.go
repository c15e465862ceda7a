package traversal

import "errors"

var (
	// A fingerprint was requested from a node whose snapshot has been advanced to a successor
	ErrFingerprintAdvanced = errors.New("traversal: fingerprint of an advanced node")
	// A stored trace could not be replayed against the model
	ErrReplay = errors.New("traversal: replay diverged")
	// A model panicked while executing a transition
	ErrModelPanic = errors.New("traversal: model panicked")
	// Reset of a node whose enumeration is driven by a scheduler
	ErrResetScheduled = errors.New("traversal: cannot reset a scheduled node")
	// A node was used after its session moved on to a fresh snapshot
	ErrStaleNode = errors.New("traversal: node belongs to a discarded snapshot")
)
