// Command testexec is the session driver: it resolves configuration,
// builds the resource pool and job queue, and runs them to completion
// through the bounded executor, mapping the outcome to one of the
// documented process exit codes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"testexec/internal/config"
	"testexec/internal/executor"
	"testexec/internal/job"
	"testexec/internal/logging"
	"testexec/internal/queue"
	"testexec/internal/resourcepool"
	"testexec/internal/resourcepool/client"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var manifestPath string
	var debugLog bool

	root := &cobra.Command{
		Use:           "testexec",
		Short:         "Run a packed, resource-aware test suite",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetArgs(args)
	root.Flags().StringVar(&manifestPath, "manifest", "", "JSON case manifest to run")
	root.Flags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	config.RegisterFlags(root.Flags())
	root.AddCommand(newPoolStatusCmd())

	var exitCode int
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		if manifestPath == "" {
			return fmt.Errorf("--manifest is required")
		}
		code, err := execute(manifestPath, cmd, debugLog)
		exitCode = int(code)
		return err
	}

	if err := root.Execute(); err != nil {
		if exitCode == 0 {
			exitCode = int(executor.ExitInternalError)
		}
		fmt.Fprintln(os.Stderr, "testexec:", err)
	}
	return exitCode
}

func execute(manifestPath string, cmd *cobra.Command, debugLog bool) (executor.ExitCode, error) {
	logger, err := logging.New(debugLog)
	if err != nil {
		return executor.ExitInternalError, err
	}
	defer logger.Sync() //nolint:errcheck

	osEnviron := os.Getenv
	settings, err := config.Resolve(cmd.Flags(), afero.NewOsFs(), osEnviron)
	if err != nil {
		return executor.ExitInternalError, err
	}

	pool, err := buildPool(settings)
	if err != nil {
		return executor.ExitInternalError, err
	}

	cases, arena, err := job.LoadManifestFile(afero.NewOsFs(), manifestPath)
	if err != nil {
		return executor.ExitInternalError, err
	}

	q := queue.New(arena, pool)
	q.Logger = queue.NewAdaptiveDebugLogger().WithLogger(logger.SugaredLogger)
	jobs := make([]job.Job, 0, len(cases))
	for _, c := range cases {
		jobs = append(jobs, c)
	}
	if len(jobs) > 0 {
		if err := q.Put(jobs...); err != nil {
			return executor.ExitInternalError, err
		}
	}

	build := func(ctx context.Context, j job.Job) (*exec.Cmd, error) {
		c, ok := j.(*job.Case)
		if !ok {
			return nil, fmt.Errorf("testexec: job %s is not a manifest case", j.ID())
		}
		argv := c.Command()
		command := exec.CommandContext(ctx, argv[0], argv[1:]...)
		if settings.PoolAddr != "" {
			command.Env = append(os.Environ(), config.EnvResourcePoolAddr+"="+settings.PoolAddr)
		}
		return command, nil
	}

	maxWorkers := settings.Workers
	if maxWorkers < 0 {
		maxWorkers = runtime.NumCPU()
	}
	execCfg := executor.Config{
		MaxWorkers:        maxWorkers,
		TimeoutMultiplier: settings.TimeoutMultiplier,
		SessionTimeout:    settings.SessionTimeout,
		FailFast:          settings.FailFast,
		Input:             executor.NewStdinInput(os.Stdin),
		Logger:            logger.SugaredLogger,
	}
	p := executor.NewPool(q, build, execCfg)

	snapshotPath, err := p.Enter(nil)
	if err != nil {
		return executor.ExitInternalError, err
	}
	_ = snapshotPath
	defer p.Exit() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("signal received, cancelling session")
		cancel()
	}()

	return p.Run(ctx)
}

func buildPool(settings config.Settings) (*resourcepool.Pool, error) {
	var pool *resourcepool.Pool
	var err error
	if settings.ResourcePoolFile != "" {
		pool, err = resourcepool.LoadSpecFile(settings.ResourcePoolFile)
		if err != nil {
			return nil, err
		}
	} else {
		pool = resourcepool.New()
	}

	for typ, n := range settings.ResourceOverrides {
		pool.Populate(typ, n)
	}
	for typ, factor := range settings.Oversubscribe {
		pool.Oversubscribe(typ, factor)
	}
	return pool, nil
}

// newPoolStatusCmd queries a resource pool running as a standalone
// server (cmd/poolserver), reporting instance counts per type — a
// thin CLI surface over internal/resourcepool/client, useful for
// inspecting a shared pool without running a session against it.
func newPoolStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "pool-status",
		Short: "Report instance counts of a remote resource pool server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := resourcepool.ParseAddr(addr)
			if err != nil {
				return err
			}
			c := client.New(parsed)
			types, err := c.Types()
			if err != nil {
				return fmt.Errorf("pool-status: %w", err)
			}
			for _, typ := range types {
				n, err := c.Count(typ)
				if err != nil {
					return fmt.Errorf("pool-status: count %s: %w", typ, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", typ, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "pool server address: uds:PATH or tcp:HOST:PORT")
	cmd.MarkFlagRequired("addr") //nolint:errcheck
	return cmd
}
