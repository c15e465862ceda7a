package scheduler

import (
	"encoding"
	"errors"
	"fmt"
)

// A delay-bounding scheduling policy.
//
// The policy decides which process is the current process of a state and how many alternative choices ("delays")
// must be tried from the state before every distinct schedule from it has been produced.
// A Policy is stateless: everything it knows about a particular program state lives in a State,
// which is cloned whenever the search branches. A Policy is therefore safe to share between workers.
type Policy interface {
	// The name the policy is registered under
	Name() string
	// Create the state used at the root of a search
	NewState() State

	// Register a newly created process. Called exactly once per process, before it can be scheduled.
	Start(s State, pid int)
	// Deregister a completed process. Called exactly once per process.
	// Leaves the current process pointing at a runnable process if any exists.
	Finish(s State, pid int)

	// The process that should run next. Returns false if no process is runnable.
	// Repeated calls without an intervening Delay, OnBlocked or OnEnabled return the same answer.
	Next(s State) (int, bool)
	// Advance the current process to the next candidate in the policy's order
	Delay(s State)
	// Upper bound of the number of Delay calls needed to produce every distinct choice from the state
	MaxDelay(s State) int

	// Notify the policy that a process can no longer run
	OnBlocked(s State, pid int)
	// Notify the policy that a process can run again
	OnEnabled(s State, pid int)

	// Model specific operations interpreted by convention. The first parameter is a string tag.
	Invoke(s State, params ...any)
	// True while a seal is active. Delay must not be called while sealed.
	IsSealed(s State) bool
}

// The per-state data of a Policy.
type State interface {
	// Deep copy used when the search branches. The copy starts a new delay round: candidates the original
	// already delayed in its current round are not carried over.
	Clone() State
	// Copy used when the state is persisted in a frontier. Transient working sets may be omitted.
	CloneForFrontier() State

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

var (
	ErrUnknownPolicy    = errors.New("scheduler: unknown policy")
	ErrUnknownStateType = errors.New("scheduler: unknown state type")
	ErrMalformedState   = errors.New("scheduler: malformed state blob")
	ErrContract         = errors.New("scheduler: contract violation")
)

// Raised (as a panic) when the scheduling contract is violated.
//
// Contract violations are programming errors in the model or the engine and are never recovered as search results.
type ContractError struct {
	Policy string
	Op     string
	Msg    string
}

func (ce *ContractError) Error() string {
	return fmt.Sprintf("scheduler: %v.%v: %v", ce.Policy, ce.Op, ce.Msg)
}

func (ce *ContractError) Unwrap() error {
	return ErrContract
}

func violation(policy, op, format string, args ...any) {
	panic(&ContractError{
		Policy: policy,
		Op:     op,
		Msg:    fmt.Sprintf(format, args...),
	})
}

// Splits the parameters of an Invoke into the tag and the remaining arguments
func invokeTag(policy string, params []any) (string, []any) {
	if len(params) == 0 {
		violation(policy, "Invoke", "missing operation tag")
	}
	tag, ok := params[0].(string)
	if !ok {
		violation(policy, "Invoke", "operation tag must be a string. Got %T", params[0])
	}
	return tag, params[1:]
}

func intArg(policy, tag string, args []any, i int) int {
	if i >= len(args) {
		violation(policy, "Invoke", "%v: missing argument %d", tag, i)
	}
	v, ok := args[i].(int)
	if !ok {
		violation(policy, "Invoke", "%v: argument %d must be an int. Got %T", tag, i, args[i])
	}
	return v
}

func stringArg(policy, tag string, args []any, i int) string {
	if i >= len(args) {
		violation(policy, "Invoke", "%v: missing argument %d", tag, i)
	}
	v, ok := args[i].(string)
	if !ok {
		violation(policy, "Invoke", "%v: argument %d must be a string. Got %T", tag, i, args[i])
	}
	return v
}

// Binds a Policy to the State of one node in the search.
//
// Handle implements state.SchedulerHooks so that a model can notify the scheduler while it executes a transition.
type Handle struct {
	Policy Policy
	State  State
}

func NewHandle(p Policy) *Handle {
	return &Handle{Policy: p, State: p.NewState()}
}

func (h *Handle) Clone() *Handle {
	return &Handle{Policy: h.Policy, State: h.State.Clone()}
}

func (h *Handle) CloneForFrontier() *Handle {
	return &Handle{Policy: h.Policy, State: h.State.CloneForFrontier()}
}

func (h *Handle) Start(pid int) { h.Policy.Start(h.State, pid) }
func (h *Handle) Finish(pid int) { h.Policy.Finish(h.State, pid) }
func (h *Handle) OnBlocked(pid int) { h.Policy.OnBlocked(h.State, pid) }
func (h *Handle) OnEnabled(pid int) { h.Policy.OnEnabled(h.State, pid) }
func (h *Handle) Invoke(params ...any) { h.Policy.Invoke(h.State, params...) }
func (h *Handle) Next() (int, bool) { return h.Policy.Next(h.State) }
func (h *Handle) Delay() { h.Policy.Delay(h.State) }
func (h *Handle) MaxDelay() int { return h.Policy.MaxDelay(h.State) }
func (h *Handle) IsSealed() bool { return h.Policy.IsSealed(h.State) }
