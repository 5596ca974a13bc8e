// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command ordinex is the CLI for the mission runner.
//
// Usage:
//
//	ordinex run --config config.yaml "add input validation to the login handler" --file internal/auth/login.go
//	ordinex validate --config config.yaml
//	ordinex version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kalyank1144/ordinex/applier"
	"github.com/kalyank1144/ordinex/approval"
	"github.com/kalyank1144/ordinex/checkpoint"
	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/eventbus"
	"github.com/kalyank1144/ordinex/evidence"
	"github.com/kalyank1144/ordinex/fence"
	"github.com/kalyank1144/ordinex/judge"
	"github.com/kalyank1144/ordinex/llmclient"
	"github.com/kalyank1144/ordinex/llmedit"
	"github.com/kalyank1144/ordinex/mission"
	"github.com/kalyank1144/ordinex/observability"
	"github.com/kalyank1144/ordinex/ratelimit"
	"github.com/kalyank1144/ordinex/repair"
	"github.com/kalyank1144/ordinex/retrieval"
	"github.com/kalyank1144/ordinex/step"
	"github.com/kalyank1144/ordinex/watch"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Run      RunCmd      `cmd:"" help:"Run a mission against a set of files."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" required:""`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ordinex version %s\n", version)
	return nil
}

// ValidateCmd checks that a config file parses and passes its own
// validation rules, without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Printf("%s: valid (database=%s checkpoint=%s)\n", cli.Config, cfg.Database.Driver, cfg.Checkpoint.BaseDir)
	return nil
}

// RunCmd runs a single mission to completion (or to its first pause)
// against a named set of files.
type RunCmd struct {
	Instruction string   `arg:"" help:"Natural-language description of the change to make."`
	TaskID      string   `help:"Identifier for this mission (defaults to a generated id)."`
	File        []string `help:"Path of a file the mission may read or edit. Repeatable." type:"path"`
	Scope       []string `help:"Glob patterns the fence restricts writes to (defaults to --file paths)."`
	TestCommand string   `name:"test-command" help:"Shell command run to validate the change, e.g. 'go test ./...'."`
	SkipTests   bool     `name:"skip-tests" help:"Never run or require a test command."`
	WorkingDir  string   `name:"working-dir" type:"path" help:"Directory the test command runs in (defaults to the current directory)."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if len(c.File) == 0 {
		return fmt.Errorf("at least one --file is required")
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cleanup, err := applyLoggerConfig(cfg.Logger); err == nil && cleanup != nil {
		defer cleanup()
	}

	db, err := sql.Open(driverName(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store, err := eventbus.NewStore(db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	bus := eventbus.NewBus(store, nil)

	evStore, err := evidence.NewStore(db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to open evidence store: %w", err)
	}

	tracer, err := observability.NewTracer(ctx, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to start tracer: %w", err)
	}
	defer tracer.Shutdown(ctx)

	metrics, err := observability.NewMetrics("ordinex", cfg.Observability.MetricsAddr != "")
	if err != nil {
		return fmt.Errorf("failed to start metrics: %w", err)
	}
	if metrics != nil {
		go serveMetrics(cfg.Observability.MetricsAddr, metrics)
	}

	limiter, err := newRateLimiter(cfg.RateLimiting, db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to start rate limiter: %w", err)
	}

	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	llmClient, err := llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
		APIKey: apiKey,
		Model:  cfg.LLM.Model,
	}, limiter)
	if err != nil {
		return fmt.Errorf("failed to start llm client: %w", err)
	}

	storage, err := checkpoint.NewStorage(cfg.Checkpoint.BaseDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint storage: %w", err)
	}
	checkpoints := checkpoint.NewManager(storage, bus)
	if cfg.Checkpoint.PruneInterval > 0 {
		go prunePeriodically(ctx, checkpoints, cfg.Checkpoint.PruneInterval, cfg.Checkpoint.MaxIndexEntries)
	}

	ap := applier.New(checkpoints, bus)
	approvals := approval.NewManager(bus)
	editor := llmedit.New(llmClient, cfg.LLMEdit)
	testRunner := repair.NewTestRunner(repair.TestRunnerConfig{
		WorkingDir: c.WorkingDir,
		Timeout:    cfg.Autonomy.TestExecutionTimeout,
	})
	repairRunner := repair.New(llmClient, editor, bus, approvals, checkpoints, ap, testRunner, evStore, cfg.Autonomy)
	retriever := retrieval.NewLexicalRetriever()

	scope := c.Scope
	if len(scope) == 0 {
		scope = c.File
	}
	denyGlobs := cfg.Fence.DenyGlobs
	allowGlobs := cfg.Fence.AllowGlobs
	if len(allowGlobs) == 0 {
		allowGlobs = scope
	}
	fnc := fence.New(denyGlobs, allowGlobs, cfg.Fence.MaxNewFileSizeLines)

	taskID := c.TaskID
	if taskID == "" {
		taskID = fmt.Sprintf("mission-%d", time.Now().UnixNano())
	}

	verdict := judge.Judge(ctx, llmClient, c.Instruction)
	instruction, ok := verdict.NextPrompt(c.Instruction)
	if !ok {
		return fmt.Errorf("instruction %q judged unclear: %s", c.Instruction, verdict.ClarifyingQuestion)
	}
	if instruction != c.Instruction {
		slog.Info("instruction replaced by the judge's safe rewrite", "task_id", taskID)
	}
	if stage := step.Classify(instruction); stage == step.StagePlan {
		return fmt.Errorf("instruction %q reads as a planning step, not a single edit/test/repair step; break it into concrete steps first", c.Instruction)
	}

	files := make(map[string]string, len(c.File))
	for _, path := range c.File {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files[abs] = string(content)
	}

	fileWatcher, err := watch.New(watch.Config{Paths: c.File})
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	changes := fileWatcher.Start(watchCtx)
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case change := <-changes:
				slog.Warn("candidate file changed outside the mission run", "task_id", taskID, "path", change.Path, "kind", change.Kind)
			}
		}
	}()
	defer func() {
		stopWatch()
		fileWatcher.Stop()
	}()

	runner := mission.New(retriever, editor, ap, checkpoints, approvals, bus, repairRunner, testRunner, fnc, evStore, cfg.Autonomy, cfg.Excerpt)

	req := mission.Request{
		TaskID:        taskID,
		Instruction:   instruction,
		Files:         files,
		DeclaredScope: scope,
		TestCommand:   c.TestCommand,
		SkipTests:     c.SkipTests,
	}

	result, err := runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("mission failed: %w", err)
	}

	if _, err := evStore.Put(ctx, taskID, evidence.KindGeneric, []byte(fmt.Sprintf("stage=%s reason=%s", result.Stage, result.Reason))); err != nil {
		slog.Warn("failed to record mission result as evidence", "error", err)
	}

	fmt.Printf("mission %s finished: stage=%s", taskID, result.Stage)
	if result.Reason != "" {
		fmt.Printf(" reason=%s", result.Reason)
	}
	fmt.Println()
	if result.Repair != nil {
		fmt.Printf("repair: outcome=%s iterations=%d\n", result.Repair.Outcome, result.Repair.Iterations)
	}
	return nil
}

// driverName maps the config's dialect name to the registered
// database/sql driver name, which differs from the dialect string for
// sqlite (go-sqlite3 registers itself as "sqlite3").
func driverName(dialect string) string {
	if dialect == "sqlite" {
		return "sqlite3"
	}
	return dialect
}

func newRateLimiter(cfg config.RateLimitConfig, db *sql.DB, dialect string) (ratelimit.RateLimiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	limits := make([]ratelimit.LimitRule, 0, len(cfg.Limits))
	for _, l := range cfg.Limits {
		limits = append(limits, ratelimit.LimitRule{
			Type:   ratelimit.LimitType(l.Type),
			Window: ratelimit.TimeWindow(l.Window),
			Limit:  l.Limit,
		})
	}
	store, err := ratelimit.NewSQLStore(db, dialect)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewRateLimiter(&ratelimit.Config{Enabled: cfg.Enabled, Limits: limits}, store)
}

func prunePeriodically(ctx context.Context, mgr *checkpoint.Manager, interval time.Duration, maxIndexEntries int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := mgr.Prune(now, maxIndexEntries); err != nil {
				slog.Warn("checkpoint prune failed", "error", err)
			} else if n > 0 {
				slog.Info("pruned checkpoints", "count", n)
			}
		}
	}
}

func serveMetrics(addr string, metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "error", err)
	}
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ordinex"),
		kong.Description("Ordinex - safety-rail mission runner for LLM-driven code changes"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
