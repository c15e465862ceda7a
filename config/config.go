// Package config holds the options of a search.
//
// Options are built once from the defaults, an optional YAML file, command line flags and Option values,
// validated, and then passed by pointer to every component. They are never modified after validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"zexplore/scheduler"
)

// The exploration strategy of a search
type Mode string

const (
	// Stateful depth first search with iterative bounding
	ModeDFS Mode = "dfs"
	// Random walks from the initial state
	ModeRandom Mode = "random"
	// Depth first search without a state table
	ModeStateless Mode = "stateless"
	// Nested depth first search for accepting cycles
	ModeNDFS Mode = "ndfs"
)

const (
	DefaultDepthIncrement = 10
	DefaultDelayIncrement = 1
	DefaultMaxStackDepth  = 10000
	DefaultRandomWalks    = 100
)

var ErrInvalid = errors.New("config: invalid options")

type Options struct {
	Mode                Mode `yaml:"mode" validate:"oneof=dfs random stateless ndfs"`
	DegreeOfParallelism int  `yaml:"parallelism" validate:"gte=1"`

	// Bound of the first iteration. 0 starts a depth bounded search at IterativeIncrement.
	StartCutoff int `yaml:"start_cutoff" validate:"gte=0"`
	// Growth of the bound between iterations. 0 selects the default of the kind of bound.
	IterativeIncrement int `yaml:"iterative_increment" validate:"gte=0"`
	// Bound of the last iteration. Negative searches until an iteration produces no frontiers.
	FinalCutoff int `yaml:"final_cutoff" validate:"gte=-1"`
	// Budget of choice cost along a path. 0 is unbounded.
	ChoiceCutoff  int    `yaml:"choice_cutoff" validate:"gte=0"`
	MaxStackDepth int    `yaml:"max_stack_depth" validate:"gte=1"`
	MaxMemory     uint64 `yaml:"max_memory"`

	StopOnFirstError      bool `yaml:"stop_on_first_error"`
	IgnorePanics          bool `yaml:"ignore_panics"`
	HierarchicalFrontiers bool `yaml:"hierarchical_frontiers"`
	// Registered name of the delay bounding scheduler. Empty bounds the depth instead of the delays.
	Scheduler string `yaml:"scheduler" validate:"omitempty,scheduler"`

	FingerprintSingleTransitionStates bool    `yaml:"fingerprint_single_transition_states"`
	SingleTransitionSampleProbability float64 `yaml:"single_transition_sample_probability" validate:"gte=0,lte=1"`

	CompactTraces bool   `yaml:"compact_traces"`
	Seed          uint64 `yaml:"seed"`
	RandomWalks   int    `yaml:"random_walks" validate:"gte=1"`

	// Directory of the spilled state table. Empty drops evicted states.
	SpillDir string `yaml:"spill_dir"`
	// Directory of the frontier database. Empty keeps frontiers in memory.
	FrontierDir string `yaml:"frontier_dir"`
	// File the reports are written to
	TraceFile string `yaml:"trace_file"`

	Logger *slog.Logger `yaml:"-" validate:"-"`
}

func Default() Options {
	return Options{
		Mode:                ModeDFS,
		DegreeOfParallelism: runtime.GOMAXPROCS(0),
		FinalCutoff:         -1,
		MaxStackDepth:       DefaultMaxStackDepth,
		RandomWalks:         DefaultRandomWalks,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("scheduler", func(fl validator.FieldLevel) bool {
		_, err := scheduler.Lookup(fl.Field().String(), scheduler.Config{})
		return err == nil
	})
	return v
}

// Check the options. The returned error wraps ErrInvalid.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if o.Mode == ModeNDFS && o.Scheduler != "" {
		return fmt.Errorf("%w: mode ndfs can not be combined with the scheduler %q", ErrInvalid, o.Scheduler)
	}
	return nil
}

// Reports whether the iterations bound the number of delays instead of the depth
func (o *Options) Delaying() bool {
	return o.Scheduler != ""
}

// The bound of the first iteration and the growth of the bound between iterations
func (o *Options) Cutoffs() (int, int) {
	increment := o.IterativeIncrement
	if increment == 0 {
		increment = DefaultDepthIncrement
		if o.Delaying() {
			increment = DefaultDelayIncrement
		}
	}
	start := o.StartCutoff
	if start == 0 && !o.Delaying() {
		start = increment
	}
	return start, increment
}

// Returns the logger of the options or the default logger
func (o *Options) Log() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Read a YAML file over the base options. Unknown keys are rejected.
func Load(path string, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, base)
}

func Parse(data []byte, base Options) (Options, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	opts := base
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return opts, nil
}

// Apply the options to the base and validate the result
func Build(base Options, opts ...Option) (*Options, error) {
	o := base
	for _, opt := range opts {
		apply(&o, opt)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

// Apply the options to the defaults and validate the result
func New(opts ...Option) (*Options, error) {
	return Build(Default(), opts...)
}
