// Command toolweave validates and runs workflow definitions from JSON files.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolweave/toolweave/internal/engine"
	"github.com/toolweave/toolweave/internal/history"
	"github.com/toolweave/toolweave/internal/logging"
	"github.com/toolweave/toolweave/internal/scheduler"
	"github.com/toolweave/toolweave/internal/tools/builtin"
	"github.com/toolweave/toolweave/pkg/schema"
	"github.com/toolweave/toolweave/pkg/tools"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}

	switch args[0] {
	case "run":
		return cmdRun(args[1:])
	case "validate":
		return cmdValidate(args[1:])
	case "schedule":
		return cmdSchedule(args[1:])
	case "history":
		return cmdHistory(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  toolweave run [flags] <workflow.json>      execute a workflow
  toolweave validate <workflow.json>         validate without executing
  toolweave schedule [flags] <workflow.json> run a workflow on a cron schedule
  toolweave history [flags]                  list recorded runs`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func newRegistry() (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func loadDefinition(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &def, nil
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	varsJSON := fs.String("vars", "", "JSON object merged over the definition's variables")
	varsSchema := fs.String("vars-schema", "", "JSON Schema file to validate variables against")
	historyDB := fs.String("history", "", "libSQL database URI to record the run in (e.g. file:history.db)")
	maxParallel := fs.Int("max-parallel", 0, "cap on concurrent branches (0 = unbounded per group)")
	backoff := fs.Duration("backoff", 0, "base delay for exponential retry backoff")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "run: exactly one workflow file expected")
		return 2
	}

	logger := newLogger(*logLevel)
	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		logger.Error("load workflow", "error", err)
		return 1
	}

	if *varsJSON != "" {
		var vars map[string]any
		if err := json.Unmarshal([]byte(*varsJSON), &vars); err != nil {
			logger.Error("parse -vars", "error", err)
			return 1
		}
		if def.Variables == nil {
			def.Variables = map[string]any{}
		}
		for k, v := range vars {
			def.Variables[k] = v
		}
	}

	reg, err := newRegistry()
	if err != nil {
		logger.Error("register builtin tools", "error", err)
		return 1
	}
	eng, err := engine.New(reg, engine.Config{
		MaxParallel: *maxParallel,
		BackoffBase: *backoff,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("engine setup", "error", err)
		return 1
	}

	if *varsSchema != "" {
		schemaBytes, err := os.ReadFile(*varsSchema)
		if err != nil {
			logger.Error("load -vars-schema", "error", err)
			return 1
		}
		if err := eng.ValidateVariables(def.Variables, schemaBytes); err != nil {
			logger.Error("variables validation", "error", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Execute(ctx, def)
	if err != nil {
		logger.Error("workflow rejected", "error", err)
		return 1
	}

	if *historyDB != "" {
		store, err := history.NewLibSQLStore(ctx, *historyDB)
		if err != nil {
			logger.Error("open history store", "error", err)
		} else {
			if err := store.SaveResult(ctx, result); err != nil {
				logger.Error("record run", "error", err)
			}
			_ = store.Close()
		}
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Success {
		return 1
	}
	return 0
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "validate: exactly one workflow file expected")
		return 2
	}

	logger := newLogger(*logLevel)
	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		logger.Error("load workflow", "error", err)
		return 1
	}

	reg, err := newRegistry()
	if err != nil {
		logger.Error("register builtin tools", "error", err)
		return 1
	}
	eng, err := engine.New(reg, engine.Config{Logger: logger})
	if err != nil {
		logger.Error("engine setup", "error", err)
		return 1
	}

	result := eng.Validate(def)
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Valid() {
		return 1
	}
	return 0
}

// recordingRunner executes workflows through the engine and, when a history
// store is configured, records every run's outcome.
type recordingRunner struct {
	engine *engine.Engine
	store  history.Store
	logger *slog.Logger
}

func (r *recordingRunner) Execute(ctx context.Context, def *schema.WorkflowDefinition) (*engine.ExecutionResult, error) {
	result, err := r.engine.Execute(ctx, def)
	if err != nil {
		return nil, err
	}
	if r.store != nil {
		if saveErr := r.store.SaveResult(ctx, result); saveErr != nil {
			r.logger.Error("record run", "error", saveErr)
		}
	}
	return result, nil
}

func cmdSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	cronExpr := fs.String("cron", "", "cron expression (5 fields, required)")
	historyDB := fs.String("history", "", "libSQL database URI to record runs in")
	maxParallel := fs.Int("max-parallel", 0, "cap on concurrent branches (0 = unbounded per group)")
	backoff := fs.Duration("backoff", 0, "base delay for exponential retry backoff")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "schedule: exactly one workflow file expected")
		return 2
	}
	if *cronExpr == "" {
		fmt.Fprintln(os.Stderr, "schedule: -cron is required")
		return 2
	}

	logger := newLogger(*logLevel)
	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		logger.Error("load workflow", "error", err)
		return 1
	}

	reg, err := newRegistry()
	if err != nil {
		logger.Error("register builtin tools", "error", err)
		return 1
	}
	eng, err := engine.New(reg, engine.Config{
		MaxParallel: *maxParallel,
		BackoffBase: *backoff,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("engine setup", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &recordingRunner{engine: eng, logger: logger}
	if *historyDB != "" {
		store, err := history.NewLibSQLStore(ctx, *historyDB)
		if err != nil {
			logger.Error("open history store", "error", err)
			return 1
		}
		defer store.Close()
		runner.store = store
	}

	sched := scheduler.New(runner, logger)
	if err := sched.Add(def.Name, *cronExpr, def); err != nil {
		logger.Error("schedule workflow", "error", err)
		return 1
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("start scheduler", "error", err)
		return 1
	}

	next, _ := sched.NextRun(*cronExpr, time.Now().UTC())
	logger.Info("workflow scheduled", "workflow", def.Name, "cron", *cronExpr, "next_run", next)

	<-ctx.Done()
	return exitOnStop(sched, logger)
}

func exitOnStop(sched *scheduler.Scheduler, logger *slog.Logger) int {
	if err := sched.Stop(); err != nil {
		logger.Error("stop scheduler", "error", err)
		return 1
	}
	return 0
}

func cmdHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	historyDB := fs.String("db", "file:history.db", "libSQL database URI")
	workflow := fs.String("workflow", "", "filter by workflow name")
	failedOnly := fs.Bool("failed", false, "only failed runs")
	limit := fs.Int("limit", 20, "max rows")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := history.NewLibSQLStore(ctx, *historyDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open history store: %v\n", err)
		return 1
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, history.Filter{
		Workflow:   *workflow,
		FailedOnly: *failedOnly,
		Limit:      *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(runs, "", "  ")
	fmt.Println(string(out))
	return 0
}
