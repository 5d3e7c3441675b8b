// Command orchestrator wires the core engine (instance pool, task queue,
// event bus, dispatch loops) to the REST/WebSocket surface, optionally runs
// a single workflow file to completion, and shuts down gracefully on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maumercado/task-queue-go/internal/api"
	"github.com/maumercado/task-queue-go/internal/config"
	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/orchestrator"
	"github.com/maumercado/task-queue-go/internal/pool"
	"github.com/maumercado/task-queue-go/internal/queue"
	"github.com/maumercado/task-queue-go/internal/task"
	"github.com/maumercado/task-queue-go/internal/worker"
	"github.com/maumercado/task-queue-go/internal/workflow"
)

// Exit codes for the embedded CLI adapter.
const (
	exitSuccess  = 0
	exitFailure  = 1
	exitUsage    = 2
	exitConfig   = 3
	exitWorkflow = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to an orchestrator config file (optional)")
	workflowFile := flag.String("workflow", "", "run a workflow YAML file to completion, then exit, instead of serving")
	initialInstances := flag.Int("instances", 0, "number of worker instances to spawn at startup")
	flag.Parse()

	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "orchestrator: unexpected arguments: %v\n", flag.Args())
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: failed to load config: %v\n", err)
		return exitConfig
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting orchestrator")

	bus := events.New(0)
	q := queue.New()
	p := pool.New(pool.Options{
		MaxInstances:      cfg.Pool.MaxInstances,
		HealthSweepPeriod: cfg.Pool.HealthSweepPeriod,
		UnhealthyAfter:    cfg.Pool.UnhealthyAfter,
		WorkerConfig: worker.Config{
			Command:           cfg.Pool.WorkerCommand,
			Args:              cfg.Pool.WorkerArgs,
			OutputBufferBytes: cfg.Pool.OutputBufferBytes,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *initialInstances > 0 {
		if _, err := p.Spawn(ctx, *initialInstances); err != nil {
			log.Error().Err(err).Msg("failed to spawn initial instances")
		}
	}

	orch := orchestrator.New(p, q, bus, orchestrator.Options{
		Dispatchers:    cfg.Queue.Dispatchers,
		TerminateGrace: cfg.Pool.TerminateGrace,
	})
	orch.Start(ctx)

	exec := workflow.New(orch)

	if *workflowFile != "" {
		return runWorkflowOnce(ctx, exec, *workflowFile)
	}

	server := api.NewServer(cfg, orch, exec)
	server.Start(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ShutdownTimeout,
		WriteTimeout: cfg.Server.ShutdownTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	server.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("orchestrator shutdown error")
	}

	log.Info().Msg("orchestrator stopped")
	return exitSuccess
}

// runWorkflowOnce loads, validates and runs a single workflow document to
// completion, reporting the embedded CLI's workflow-validation exit code
// on failure and a generic failure code if any task in the batch did not
// complete successfully.
func runWorkflowOnce(ctx context.Context, exec *workflow.Executor, path string) int {
	log := logger.WithComponent("cli")

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to read workflow file")
		return exitFailure
	}

	doc, err := workflow.Parse(data)
	if err != nil {
		log.Error().Err(err).Msg("workflow document invalid")
		return exitWorkflow
	}

	result, err := exec.Execute(ctx, doc)
	if err != nil {
		log.Error().Err(err).Msg("workflow execution failed")
		return exitWorkflow
	}

	anyFailed := false
	for name, t := range result.Outcome {
		log.Info().Str("task", name).Str("state", t.State.String()).Msg("workflow task finished")
		if t.State != task.StateCompleted {
			anyFailed = true
		}
	}
	if anyFailed {
		return exitFailure
	}
	return exitSuccess
}
