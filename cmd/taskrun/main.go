package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aristath/taskcore/internal/config"
	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/persistence"
	"github.com/aristath/taskcore/internal/plan"
	"github.com/aristath/taskcore/internal/task"
)

// Exit codes
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// taskList collects repeated -task flags.
type taskList []string

func (l *taskList) String() string { return strings.Join(*l, ",") }

func (l *taskList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	globalPath  string
	projectPath string
	historyPath string
	noHistory   bool
	concurrency int
	showRuns    int
	init        bool
	tasks       taskList
}

func main() {
	// Worker processes for FutureProcessTask re-enter here.
	if task.ServeWorker() {
		return
	}

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Create ProcessManager for subprocess tracking
	pm := task.NewProcessManager()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Restore default signal handling (double Ctrl+C = force exit)
			stop()
			log.Println("Shutdown signal received, killing subprocesses...")
			if err := pm.KillAll(); err != nil {
				log.Printf("ERROR: killing subprocesses: %v", err)
			}
		case <-finished:
		}
	}()

	code := run(ctx, os.Args[1:], pm, os.Stdout, os.Stderr)
	close(finished)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("taskrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.globalPath, "config", "", "global task file (default ~/.taskcore/config.json)")
	fs.StringVar(&opts.projectPath, "project", config.ProjectPath(), "project task file")
	fs.StringVar(&opts.historyPath, "history", "", "history database (default from task file)")
	fs.BoolVar(&opts.noHistory, "no-history", false, "do not record this run")
	fs.IntVar(&opts.concurrency, "concurrency", 0, "max tasks running at once (default from task file)")
	fs.IntVar(&opts.showRuns, "runs", 0, "print the N most recent runs (or -task history) and exit")
	fs.BoolVar(&opts.init, "init", false, "write an example project task file and exit")
	fs.Var(&opts.tasks, "task", "run only this task and its dependencies (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, pm *task.ProcessManager, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	opts, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}

	if opts.init {
		return initProject(opts.projectPath, stdout, stderr)
	}

	if opts.globalPath == "" {
		if opts.globalPath, err = config.GlobalPath(); err != nil {
			logger.Printf("WARNING: %v, skipping global config", err)
		}
	}

	cfg, err := config.Load(opts.globalPath, opts.projectPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitConfig
	}

	historyPath := cfg.History
	if opts.historyPath != "" {
		historyPath = opts.historyPath
	}
	if opts.noHistory {
		historyPath = ""
	}

	if opts.showRuns > 0 {
		return showHistory(ctx, historyPath, opts, stdout, stderr)
	}

	if len(cfg.Tasks) == 0 {
		fmt.Fprintf(stderr, "Error: no tasks configured in %s or %s\n", opts.globalPath, opts.projectPath)
		return exitConfig
	}

	// Create event bus and log everything published to it
	bus := events.NewEventBus()
	logged := make(chan struct{})
	go func() {
		logEvents(logger, bus.SubscribeAll(0))
		close(logged)
	}()
	closeBus := func() {
		bus.Close()
		<-logged
	}

	dag, err := plan.Build(cfg, plan.BuildOptions{
		ProcessManager: pm,
		Events:         bus,
		Only:           opts.tasks,
	})
	if err != nil {
		closeBus()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}

	concurrency := cfg.Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}

	history := openHistory(ctx, logger, historyPath, opts)
	if history != nil {
		defer history.close()
	}

	report, err := plan.NewRunner(plan.RunnerConfig{Concurrency: concurrency, Events: bus}, dag).Run(ctx)
	closeBus()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}

	runID := ""
	if history != nil {
		runID = history.record(report)
	}

	fmt.Fprintln(stdout, renderSummary(report, runID))

	if !report.Succeeded() {
		return exitFailed
	}
	return exitOK
}

// initProject writes the example task file unless one already exists.
func initProject(path string, stdout, stderr io.Writer) int {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", path)
		return exitConfig
	}
	if err := config.Save(config.Example(), path); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	fmt.Fprintf(stdout, "Wrote %s\n", path)
	return exitOK
}

// runHistory records one run. Storage errors are logged, never fatal.
type runHistory struct {
	store  *persistence.SQLiteStore
	run    *persistence.Run
	logger *log.Logger
}

func openHistory(ctx context.Context, logger *log.Logger, path string, opts *options) *runHistory {
	if path == "" {
		return nil
	}

	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		logger.Printf("WARNING: history disabled: %v", err)
		return nil
	}

	run, err := store.BeginRun(ctx, opts.globalPath+","+opts.projectPath)
	if err != nil {
		logger.Printf("WARNING: history disabled: %v", err)
		store.Close()
		return nil
	}

	return &runHistory{store: store, run: run, logger: logger}
}

// record stores the report and returns the run ID.
func (h *runHistory) record(report *plan.Report) string {
	// The run context may already be cancelled; history is still written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.store.RecordReport(ctx, h.run.ID, report); err != nil {
		h.logger.Printf("WARNING: recording results: %v", err)
	}
	if err := h.store.FinishRun(ctx, h.run.ID, report.Succeeded()); err != nil {
		h.logger.Printf("WARNING: finishing run: %v", err)
	}
	return h.run.ID
}

func (h *runHistory) close() {
	if err := h.store.Close(); err != nil {
		h.logger.Printf("WARNING: closing history: %v", err)
	}
}

// showHistory prints recent runs, or the recent outcomes of each -task.
func showHistory(ctx context.Context, path string, opts *options, stdout, stderr io.Writer) int {
	if path == "" {
		fmt.Fprintln(stderr, "Error: history is disabled")
		return exitConfig
	}

	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	defer store.Close()

	if len(opts.tasks) == 0 {
		runs, err := store.ListRuns(ctx, opts.showRuns)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
		for _, r := range runs {
			fmt.Fprintf(stdout, "%s  %-9s  %s\n", r.ID, r.Status, r.StartedAt.Format(time.RFC3339))
		}
		return exitOK
	}

	for _, name := range opts.tasks {
		records, err := store.TaskHistory(ctx, name, opts.showRuns)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
		for _, rec := range records {
			fmt.Fprintf(stdout, "%s  %s  %-9s  %8s  %s\n", rec.RunID, rec.Task, rec.Status, rec.Duration, rec.Kind)
		}
	}
	return exitOK
}
