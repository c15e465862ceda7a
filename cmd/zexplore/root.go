package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"zexplore/config"
	"zexplore/model"
	"zexplore/search"
)

// An error that ends the command with the exit code of a result
type exitError struct {
	result search.Result
	err    error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func invalid(err error) error {
	return &exitError{result: search.ResultInvalidParameters, err: err}
}

type flags struct {
	config      string
	logLevel    string
	noColor     bool
	metricsAddr string
	healthAddr  string
	processes   int

	mode              string
	parallelism       int
	startCutoff       int
	increment         int
	finalCutoff       int
	choiceCutoff      int
	maxStackDepth     int
	maxMemory         uint64
	stopOnFirstError  bool
	ignorePanics      bool
	hierarchical      bool
	scheduler         string
	fingerprintSingle bool
	sampleProbability float64
	compact           bool
	seed              uint64
	walks             int
	spillDir          string
	frontierDir       string
	traceFile         string
}

type cli struct {
	stdout io.Writer
	stderr io.Writer
	flags  flags
	// Exit code of a search that ran to completion
	code   int
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "zexplore [flags] model",
		Short: "Explore the interleavings of a model and report the errors found",
		Long: `zexplore runs a bounded, iteratively deepened search over the interleavings and
nondeterministic choices of a reference model. Without a scheduler the iterations
bound the depth of the search, with a scheduler they bound the number of delays.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          c.run,
	}
	defaults := config.Default()
	f := &c.flags
	pf := root.PersistentFlags()
	pf.StringVar(&f.logLevel, "log-level", "info", "Minimum level of the log messages (debug, info, warn, error)")
	pf.BoolVar(&f.noColor, "no-color", false, "Disable colors in the log output")

	fl := root.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML file with the search options. Flags override its values.")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve prometheus metrics of the search on the address")
	fl.StringVar(&f.healthAddr, "health-addr", "", "Serve the grpc health service on the address while the search runs")
	fl.IntVarP(&f.processes, "processes", "n", 2, "Number of worker processes of the model")

	fl.StringVarP(&f.mode, "mode", "m", string(defaults.Mode), "Search mode: dfs, random, stateless or ndfs")
	fl.IntVarP(&f.parallelism, "parallelism", "p", defaults.DegreeOfParallelism, "Number of workers")
	fl.IntVar(&f.startCutoff, "start-cutoff", defaults.StartCutoff, "Bound of the first iteration")
	fl.IntVar(&f.increment, "iterative-increment", defaults.IterativeIncrement, "Growth of the bound between iterations, 0 for the default")
	fl.IntVar(&f.finalCutoff, "final-cutoff", defaults.FinalCutoff, "Bound of the last iteration, -1 for none")
	fl.IntVar(&f.choiceCutoff, "choice-cutoff", defaults.ChoiceCutoff, "Budget of choice cost along a path, 0 for none")
	fl.IntVar(&f.maxStackDepth, "max-stack-depth", defaults.MaxStackDepth, "Depth at which a schedule is reported as a stack overflow")
	fl.Uint64Var(&f.maxMemory, "max-memory", defaults.MaxMemory, "Heap size in bytes above which visited states are evicted, 0 for none")
	fl.BoolVar(&f.stopOnFirstError, "stop-on-first-error", false, "Stop the search at the first error")
	fl.BoolVar(&f.ignorePanics, "ignore-panics", false, "Let panics of the model crash the search")
	fl.BoolVar(&f.hierarchical, "hierarchical-frontiers", false, "Keep frontiers in a tree instead of as full traces")
	fl.StringVarP(&f.scheduler, "scheduler", "s", "", "Delay bounding scheduler, see the schedulers command")
	fl.BoolVar(&f.fingerprintSingle, "fingerprint-single-transition-states", false, "Fingerprint states with a single successor")
	fl.Float64Var(&f.sampleProbability, "single-transition-sample-probability", 0, "Probability of fingerprinting a state with a single successor anyway")
	fl.BoolVar(&f.compact, "compact-traces", false, "Fold repeated steps of the printed traces")
	fl.Uint64Var(&f.seed, "seed", 0, "Seed of the random choices")
	fl.IntVar(&f.walks, "random-walks", defaults.RandomWalks, "Number of walks of the random mode")
	fl.StringVar(&f.spillDir, "spill-dir", "", "Directory of the database receiving evicted states")
	fl.StringVar(&f.frontierDir, "frontier-dir", "", "Directory of the database holding the frontiers")
	fl.StringVar(&f.traceFile, "trace-file", "", "Write the reports to the file, suffixed with the run id")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalid(err)
	})
	root.AddCommand(c.modelsCommand(), c.schedulersCommand())
	return root
}

// The options given by the flags that were set on the command line
func (c *cli) options(cmd *cobra.Command, base config.Options) []config.Option {
	f := &c.flags
	changed := cmd.Flags().Changed
	opts := []config.Option{}
	if changed("mode") {
		opts = append(opts, config.WithMode(config.Mode(f.mode)))
	}
	if changed("parallelism") {
		opts = append(opts, config.Parallelism(f.parallelism))
	}
	if changed("start-cutoff") || changed("iterative-increment") || changed("final-cutoff") {
		start, increment, final := base.StartCutoff, base.IterativeIncrement, base.FinalCutoff
		if changed("start-cutoff") {
			start = f.startCutoff
		}
		if changed("iterative-increment") {
			increment = f.increment
		}
		if changed("final-cutoff") {
			final = f.finalCutoff
		}
		opts = append(opts, config.Cutoffs(start, increment, final))
	}
	if changed("choice-cutoff") {
		opts = append(opts, config.ChoiceCutoff(f.choiceCutoff))
	}
	if changed("max-stack-depth") {
		opts = append(opts, config.MaxStackDepth(f.maxStackDepth))
	}
	if changed("max-memory") {
		opts = append(opts, config.MaxMemory(f.maxMemory))
	}
	if f.stopOnFirstError {
		opts = append(opts, config.StopOnFirstError())
	}
	if f.ignorePanics {
		opts = append(opts, config.IgnorePanic())
	}
	if f.hierarchical {
		opts = append(opts, config.HierarchicalFrontiers())
	}
	if changed("scheduler") {
		opts = append(opts, config.WithScheduler(f.scheduler))
	}
	if changed("fingerprint-single-transition-states") || changed("single-transition-sample-probability") {
		single, prob := base.FingerprintSingleTransitionStates, base.SingleTransitionSampleProbability
		if changed("fingerprint-single-transition-states") {
			single = f.fingerprintSingle
		}
		if changed("single-transition-sample-probability") {
			prob = f.sampleProbability
		}
		opts = append(opts, config.Fingerprinting(single, prob))
	}
	if f.compact {
		opts = append(opts, config.CompactTraces())
	}
	if changed("seed") {
		opts = append(opts, config.Seed(f.seed))
	}
	if changed("random-walks") {
		opts = append(opts, config.RandomWalks(f.walks))
	}
	if changed("spill-dir") || changed("frontier-dir") {
		spill, frontiers := base.SpillDir, base.FrontierDir
		if changed("spill-dir") {
			spill = f.spillDir
		}
		if changed("frontier-dir") {
			frontiers = f.frontierDir
		}
		opts = append(opts, config.Storage(spill, frontiers))
	}
	if changed("trace-file") {
		opts = append(opts, config.TraceFile(f.traceFile))
	}
	return opts
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	log, err := newLogger(c.stderr, c.flags.logLevel, c.flags.noColor)
	if err != nil {
		return invalid(err)
	}
	base := config.Default()
	if c.flags.config != "" {
		if base, err = config.Load(c.flags.config, base); err != nil {
			return invalid(err)
		}
	}
	opts, err := config.Build(base, append(c.options(cmd, base), config.WithLogger(log))...)
	if err != nil {
		return invalid(err)
	}
	initial, err := model.Lookup(args[0], model.Params{Processes: c.flags.processes})
	if err != nil {
		return invalid(err)
	}
	searcher, err := search.New(initial, opts)
	if err != nil {
		return invalid(err)
	}
	log = log.With("run", searcher.RunID())

	mon := newMonitor(log)
	if err := c.listen(mon, searcher); err != nil {
		mon.stop()
		return &exitError{result: search.ResultRuntimeError, err: err}
	}
	sum, err := searcher.Explore(cmd.Context())
	mon.stop()
	if err != nil {
		log.Error("Search did not complete", "err", err)
	}

	c.print(sum, opts)
	if opts.TraceFile != "" {
		path, err := writeTraces(opts.TraceFile, sum, opts.CompactTraces)
		if err != nil {
			log.Error("Writing traces", "err", err)
			sum.Result = search.Worst(sum.Result, search.ResultRuntimeError)
		} else {
			log.Info("Wrote traces", "path", path)
		}
	}
	c.code = sum.Result.ExitCode()
	return nil
}

func (c *cli) listen(mon *monitor, searcher *search.Searcher) error {
	if c.flags.metricsAddr != "" {
		lis, err := net.Listen("tcp", c.flags.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mon.serveMetrics(lis, searcher.Stats(), searcher.RunID())
	}
	if c.flags.healthAddr != "" {
		lis, err := net.Listen("tcp", c.flags.healthAddr)
		if err != nil {
			return fmt.Errorf("health listener: %w", err)
		}
		mon.serveHealth(lis)
	}
	return nil
}

func (c *cli) print(sum *search.Summary, opts *config.Options) {
	for _, r := range sum.Reports {
		fmt.Fprint(c.stdout, r.Format(opts.CompactTraces))
	}
	if sum.Truncated > 0 {
		fmt.Fprintf(c.stdout, "%d more reports were not kept\n", sum.Truncated)
	}
	fmt.Fprintf(c.stdout, "Result: %v\n", sum.Result)
	fmt.Fprintf(c.stdout, "Cutoff: %v\n", sum.Cutoff)
	if sum.Unexplored > 0 {
		fmt.Fprintf(c.stdout, "Unexplored frontiers: %v\n", sum.Unexplored)
	}
	fmt.Fprint(c.stdout, sum.Stats)
}

// The trace file of a run: the run id is inserted before the extension
func traceFileName(path string, run string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + run + ext
}

func writeTraces(path string, sum *search.Summary, compact bool) (string, error) {
	path = traceFileName(path, sum.Run)
	out := strings.Builder{}
	fmt.Fprintf(&out, "run %v\nresult %v\n", sum.Run, sum.Result)
	for i, r := range sum.Reports {
		fmt.Fprintf(&out, "\n#%d ", i+1)
		out.WriteString(r.Format(compact))
	}
	if err := os.WriteFile(path, []byte(out.String()), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Run the command line and return the exit code
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	cmd := c.command()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "zexplore: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.result.ExitCode()
		}
		return search.ResultInvalidParameters.ExitCode()
	}
	return c.code
}
