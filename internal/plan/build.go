package plan

import (
	"fmt"
	"log"
	"sort"

	"github.com/aristath/taskcore/internal/config"
	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/retry"
	"github.com/aristath/taskcore/internal/task"
)

// BuildOptions are the runtime collaborators handed to every task.
type BuildOptions struct {
	ProcessManager *task.ProcessManager  // Optional; tracks processes for shutdown
	Events         *events.EventBus      // Optional; receives attempt events
	Breakers       *retry.BreakerRegistry // Optional; created when nil
	Only           []string              // Run only these tasks and their dependencies
}

// Build creates a DAG from cfg. Every task gets its own retry policy;
// breakers are shared by name through the registry.
func Build(cfg *config.Config, opts BuildOptions) (*DAG, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	names, err := selectTasks(cfg, opts.Only)
	if err != nil {
		return nil, err
	}

	breakers := opts.Breakers
	if breakers == nil {
		breakers = retry.NewBreakerRegistry()
	}

	dag := NewDAG()
	for _, name := range names {
		tc, _ := cfg.Resolve(name)

		mode := FailHard
		if tc.OnFailure == config.OnFailureContinue {
			mode = FailSoft
		}

		node := &Node{
			ID:        name,
			DependsOn: append([]string(nil), tc.DependsOn...),
			Resources: append([]string(nil), tc.Resources...),
			Mode:      mode,
			Task:      task.NewExtTask(name, tc.Command, taskOptions(name, tc, breakers, opts)...),
		}
		if err := dag.AddNode(node); err != nil {
			return nil, err
		}
	}

	if _, err := dag.Validate(); err != nil {
		return nil, err
	}
	return dag, nil
}

func taskOptions(name string, tc config.TaskConfig, breakers *retry.BreakerRegistry, opts BuildOptions) []task.Option {
	var out []task.Option

	if tc.Dir != "" {
		out = append(out, task.WithDir(tc.Dir))
	}
	switch {
	case tc.InheritEnv:
		out = append(out, task.WithEnv(task.InheritEnv(tc.Env)))
	case tc.Env != nil:
		out = append(out, task.WithEnv(tc.Env))
	}
	if tc.Timeout != nil && *tc.Timeout > 0 {
		out = append(out, task.WithTimeout(tc.Timeout.Std()))
	}
	if tc.Retry != nil {
		out = append(out, task.WithRetry(NewPolicy(name, *tc.Retry, breakers)))
	}
	if !tc.Collects() {
		out = append(out, task.WithoutOutput())
	}
	if opts.ProcessManager != nil {
		out = append(out, task.WithProcessManager(opts.ProcessManager))
	}
	if opts.Events != nil {
		out = append(out, task.WithEvents(opts.Events))
	}
	return out
}

// NewPolicy creates the retry policy described by rc. The callback logs
// every retry of the named task.
func NewPolicy(name string, rc config.RetryConfig, breakers *retry.BreakerRegistry) retry.Policy {
	logRetry := func(_ retry.Subject, failures int) {
		log.Printf("WARNING: task %s failed (%d of %d attempts used)", name, failures, rc.Retries)
	}

	var p retry.Policy
	switch rc.Strategy {
	case config.StrategyExponential:
		exponent := rc.Exponent
		if exponent == 0 {
			exponent = config.DefaultExponent
		}
		p = retry.NewExponentialBackoff(rc.Sleep.Std(), exponent, rc.Retries, logRetry)
	default:
		p = retry.NewConstantSleep(rc.Sleep.Std(), rc.Retries, logRetry)
	}

	if rc.Breaker != nil && breakers != nil {
		cb := breakers.Get(rc.Breaker.Name, retry.BreakerSettings{
			MaxFailures: rc.Breaker.MaxFailures,
			OpenFor:     rc.Breaker.OpenFor.Std(),
		})
		p = retry.NewCircuitBreaker(p, cb)
	}
	return p
}

// selectTasks returns only and everything it transitively depends on, or
// every task when only is empty.
func selectTasks(cfg *config.Config, only []string) ([]string, error) {
	if len(only) == 0 {
		return cfg.TaskNames(), nil
	}

	selected := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if selected[name] {
			return nil
		}
		tc, ok := cfg.Tasks[name]
		if !ok {
			return fmt.Errorf("unknown task %q", name)
		}
		selected[name] = true
		for _, dep := range tc.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range only {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
