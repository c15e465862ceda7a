package config

import "log/slog"

// An option used to configure a search
type Option interface {
	// noop method
	SearchOpt()
}

type ModeOption struct{ Mode Mode }

func (ModeOption) SearchOpt() {}

type ParallelismOption struct{ N int }

func (ParallelismOption) SearchOpt() {}

type CutoffOption struct {
	Start     int
	Increment int
	Final     int
}

func (CutoffOption) SearchOpt() {}

type ChoiceCutoffOption struct{ Cutoff int }

func (ChoiceCutoffOption) SearchOpt() {}

type MaxStackDepthOption struct{ Depth int }

func (MaxStackDepthOption) SearchOpt() {}

type MaxMemoryOption struct{ Bytes uint64 }

func (MaxMemoryOption) SearchOpt() {}

type StopOnFirstErrorOption struct{}

func (StopOnFirstErrorOption) SearchOpt() {}

type IgnorePanicOption struct{}

func (IgnorePanicOption) SearchOpt() {}

type HierarchicalFrontiersOption struct{}

func (HierarchicalFrontiersOption) SearchOpt() {}

type SchedulerOption struct{ Name string }

func (SchedulerOption) SearchOpt() {}

type FingerprintOption struct {
	SingleTransitionStates bool
	SampleProbability      float64
}

func (FingerprintOption) SearchOpt() {}

type CompactTracesOption struct{}

func (CompactTracesOption) SearchOpt() {}

type SeedOption struct{ Seed uint64 }

func (SeedOption) SearchOpt() {}

type RandomWalksOption struct{ Walks int }

func (RandomWalksOption) SearchOpt() {}

type StorageOption struct {
	SpillDir    string
	FrontierDir string
}

func (StorageOption) SearchOpt() {}

type TraceFileOption struct{ Path string }

func (TraceFileOption) SearchOpt() {}

type LoggerOption struct{ Logger *slog.Logger }

func (LoggerOption) SearchOpt() {}

func apply(o *Options, opt Option) {
	switch t := opt.(type) {
	case ModeOption:
		o.Mode = t.Mode
	case ParallelismOption:
		o.DegreeOfParallelism = t.N
	case CutoffOption:
		o.StartCutoff = t.Start
		o.IterativeIncrement = t.Increment
		o.FinalCutoff = t.Final
	case ChoiceCutoffOption:
		o.ChoiceCutoff = t.Cutoff
	case MaxStackDepthOption:
		o.MaxStackDepth = t.Depth
	case MaxMemoryOption:
		o.MaxMemory = t.Bytes
	case StopOnFirstErrorOption:
		o.StopOnFirstError = true
	case IgnorePanicOption:
		o.IgnorePanics = true
	case HierarchicalFrontiersOption:
		o.HierarchicalFrontiers = true
	case SchedulerOption:
		o.Scheduler = t.Name
	case FingerprintOption:
		o.FingerprintSingleTransitionStates = t.SingleTransitionStates
		o.SingleTransitionSampleProbability = t.SampleProbability
	case CompactTracesOption:
		o.CompactTraces = true
	case SeedOption:
		o.Seed = t.Seed
	case RandomWalksOption:
		o.RandomWalks = t.Walks
	case StorageOption:
		o.SpillDir = t.SpillDir
		o.FrontierDir = t.FrontierDir
	case TraceFileOption:
		o.TraceFile = t.Path
	case LoggerOption:
		o.Logger = t.Logger
	}
}

// Select the exploration strategy.
//
// Default value is ModeDFS.
func WithMode(m Mode) Option {
	return ModeOption{Mode: m}
}

// Configure the number of workers exploring concurrently.
//
// Default value is GOMAXPROCS
func Parallelism(n int) Option {
	return ParallelismOption{N: n}
}

// Configure the bounds of the iterations.
//
// The first iteration is bounded by start, every further one by increment more, until final.
// A negative final continues until an iteration produces no frontiers.
func Cutoffs(start, increment, final int) Option {
	return CutoffOption{Start: start, Increment: increment, Final: final}
}

// Configure the choice cost a path may spend. Taking option i of a choice costs i.
//
// Default value is 0, which is unbounded
func ChoiceCutoff(cutoff int) Option {
	return ChoiceCutoffOption{Cutoff: cutoff}
}

// Configure the deepest stack a worker may build before the schedule is reported as a stack overflow.
//
// Default value is 10000
func MaxStackDepth(depth int) Option {
	return MaxStackDepthOption{Depth: depth}
}

// Configure the memory use above which the state table is evicted.
//
// Default value is 0, which never evicts
func MaxMemory(bytes uint64) Option {
	return MaxMemoryOption{Bytes: bytes}
}

// Stop all workers when the first error is found
func StopOnFirstError() Option {
	return StopOnFirstErrorOption{}
}

// Let panics raised by the model crash the search instead of reporting them as errors.
// Makes it easier to inspect the failing state with a debugger.
func IgnorePanic() Option {
	return IgnorePanicOption{}
}

// Keep the frontiers in a tree of segments instead of complete traces
func HierarchicalFrontiers() Option {
	return HierarchicalFrontiersOption{}
}

// Bound the number of delays of the registered scheduler instead of the depth
func WithScheduler(name string) Option {
	return SchedulerOption{Name: name}
}

// Configure which states with a single successor are fingerprinted
func Fingerprinting(singleTransitionStates bool, sampleProbability float64) Option {
	return FingerprintOption{SingleTransitionStates: singleTransitionStates, SampleProbability: sampleProbability}
}

// Fold repeated steps in the printed traces
func CompactTraces() Option {
	return CompactTracesOption{}
}

func Seed(seed uint64) Option {
	return SeedOption{Seed: seed}
}

// Configure the number of walks of a random search.
//
// Default value is 100
func RandomWalks(walks int) Option {
	return RandomWalksOption{Walks: walks}
}

// Move the evicted state table and the frontiers to badger databases in the directories.
// An empty directory keeps the corresponding data in memory.
func Storage(spillDir, frontierDir string) Option {
	return StorageOption{SpillDir: spillDir, FrontierDir: frontierDir}
}

func TraceFile(path string) Option {
	return TraceFileOption{Path: path}
}

func WithLogger(l *slog.Logger) Option {
	return LoggerOption{Logger: l}
}
