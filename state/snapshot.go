// Package state defines the contract between the exploration engine and a compiled model.
//
// A model provides a single mutable Snapshot per worker. The engine advances it one transition at a time,
// checkpoints it into Receipts and rolls it back when it backtracks.
package state

import (
	"errors"

	"zexplore/fingerprint"
)

// An opaque handle produced by Snapshot.Checkpoint.
//
// Receipts are cheap to store and are only interpreted by the Snapshot that produced them (or a clone of it).
type Receipt any

// The kind of a snapshot determines how its successors are enumerated
type Kind uint8

const (
	// One or more processes can run and no nondeterministic choice is pending
	KindExecution Kind = iota
	// A nondeterministic choice with one or more options is pending
	KindChoice
	// No further transitions are possible
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindExecution:
		return "Execution"
	case KindChoice:
		return "Choice"
	case KindTerminal:
		return "Terminal"
	}
	return "Unknown"
}

// The classification of a terminal snapshot
type Outcome uint8

const (
	// The snapshot is not terminal
	OutcomeNone Outcome = iota
	// All processes completed normally
	OutcomeValidEnd
	// Some process is blocked forever and no process can run
	OutcomeInvalidEnd
	// An assume statement did not hold. The path is pruned, it is not an error
	OutcomeFailedAssumption
	// An assertion failed or an uncaught exception escaped a process
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "None"
	case OutcomeValidEnd:
		return "ValidEnd"
	case OutcomeInvalidEnd:
		return "InvalidEnd"
	case OutcomeFailedAssumption:
		return "FailedAssumption"
	case OutcomeError:
		return "Error"
	}
	return "Unknown"
}

// Reports whether the outcome is a reportable model error
func (o Outcome) IsError() bool {
	return o == OutcomeInvalidEnd || o == OutcomeError
}

var (
	// Returned (or wrapped) by RunProcess/RunChoice when an assume statement fails.
	ErrAssumeFailed = errors.New("state: assumption failed")
	// Returned by RunProcess/RunChoice when the index does not name a runnable process or pending choice
	ErrNotRunnable = errors.New("state: process or choice is not runnable")
)

// Hooks a model calls while executing a transition to keep a delay-bounding scheduler informed.
//
// The engine passes nil when no scheduler is in use.
type SchedulerHooks interface {
	Start(pid int)
	Finish(pid int)
	OnBlocked(pid int)
	OnEnabled(pid int)
	Invoke(params ...any)
}

// A mutable, checkpointable representation of one point of a model's execution.
//
// A Snapshot is owned by a single worker and is never accessed concurrently.
type Snapshot interface {
	// Digest of the complete current state
	Fingerprint() fingerprint.Fingerprint

	// Record the current state and return a receipt that can later be used to roll back to it.
	// The engine only rolls back to a receipt while no other receipt has been taken from a replay of the same state.
	Checkpoint() Receipt
	// Restore the state recorded by the receipt
	Rollback(Receipt)
	// Deep copy of the current state. The worker id allows per-worker resources in the clone.
	Clone(worker int) Snapshot

	Kind() Kind

	// Number of processes that have been created, including completed ones.
	// Process ids are indices in [0, NumProcesses()).
	NumProcesses() int
	Runnable(pid int) bool
	// The ids of the runnable processes in ascending order
	RunnableProcesses() []int
	// Number of options of the pending choice. 0 if no choice is pending.
	NumPendingChoices() int

	// Run the process one transition forward, mutating the snapshot in place
	RunProcess(pid int, hooks SchedulerHooks) error
	// Resolve the pending choice with the option, mutating the snapshot in place
	RunChoice(option int, hooks SchedulerHooks) error

	// The classification of a terminal snapshot. OutcomeNone if the snapshot is not terminal.
	Outcome() Outcome
	// The error that made the snapshot erroneous, if any
	Err() error
}

// Implemented by snapshots of models with liveness properties.
type Acceptor interface {
	// Reports whether the current state is an accepting state of the property automaton
	IsAccepting() bool
}
