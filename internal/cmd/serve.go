package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/factgate/factgate/internal/config"
	"github.com/factgate/factgate/internal/observability"
	"github.com/factgate/factgate/internal/server"
	"github.com/factgate/factgate/internal/server/handlers"
	"github.com/factgate/factgate/pkg/facts"
	"github.com/factgate/factgate/pkg/generate"
	"github.com/factgate/factgate/pkg/jobstore"
	"github.com/factgate/factgate/pkg/orchestrator"
	"github.com/factgate/factgate/pkg/queue"
	"github.com/factgate/factgate/pkg/resultstore"
	"github.com/factgate/factgate/pkg/verify"
	"github.com/factgate/factgate/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline server",
	Long: `Run the HTTP API, dispatch queue and worker pool.

On startup, jobs orphaned by a previous process (pending records and
stale processing claims) are re-enqueued from the durable job store.

Example:
  factgate serve
  factgate serve --port 9090 --workers 8`,
	RunE: runServe,
}

var (
	servePort    int
	serveHost    string
	serveWorkers int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override listen port")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override listen host")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Override worker count")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	if servePort > 0 {
		overrides["server"] = map[string]any{"port": servePort}
	}
	if serveHost != "" {
		sv, _ := overrides["server"].(map[string]any)
		if sv == nil {
			sv = map[string]any{}
		}
		sv["host"] = serveHost
		overrides["server"] = sv
	}
	if serveWorkers > 0 {
		overrides["workers"] = serveWorkers
	}

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	jobs, err := jobstore.Open(ctx, jobstore.Config{Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() { _ = jobs.Close() }()

	subjects, err := facts.OpenStore(ctx, facts.StoreConfig{Path: cfg.Facts.Path})
	if err != nil {
		return fmt.Errorf("open subject store: %w", err)
	}
	defer func() { _ = subjects.Close() }()

	if cfg.Results.Backend == "" || cfg.Results.Backend == "file" {
		if cfg.Results.File.Secret == "" {
			// Ephemeral secret: outstanding handles stop validating
			// after a restart, but fresh ones can always be minted
			// from a job's status.
			cfg.Results.File.Secret = uuid.NewString()
			log.Warn("results.file.secret not set, using an ephemeral signing secret")
		}
	}

	results, artifacts, err := buildResultStore(ctx, cfg)
	if err != nil {
		return err
	}

	policy := verify.DefaultPolicy()
	if cfg.Verification.PolicyPath != "" {
		policy, err = verify.LoadPolicy(cfg.Verification.PolicyPath)
		if err != nil {
			return fmt.Errorf("load verification policy: %w", err)
		}
	}

	var audit worker.Auditor = worker.NopAuditor{}
	if cfg.Audit.Path != "" {
		f, err := os.OpenFile(cfg.Audit.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		defer func() { _ = f.Close() }()
		audit = worker.NewJSONLAuditor(f)
	}

	q := queue.NewMemory(cfg.Queue.Capacity)
	defer func() { _ = q.Close() }()

	gen := generate.NewClient(generate.ClientConfig{
		Endpoint:       cfg.Generator.Endpoint,
		APIKey:         cfg.Generator.APIKey,
		Model:          cfg.Generator.Model,
		MaxTokens:      cfg.Generator.MaxTokens,
		RequestTimeout: cfg.Generator.Timeout,
		RateLimit:      cfg.Generator.RateLimit,
	})

	orch := orchestrator.New(orchestrator.Config{
		HandleTTL: cfg.Results.HandleTTL,
	}, jobs, q, results, log.Named("orchestrator"))

	pool := worker.New(worker.Config{
		Workers:         cfg.Workers,
		GenerateTimeout: cfg.Generator.Timeout,
		Retry: worker.RetryConfig{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			BackoffBase:   cfg.Retry.BackoffBase,
			BackoffFactor: cfg.Retry.BackoffFactor,
			BackoffCap:    cfg.Retry.BackoffCap,
		},
	}, worker.Deps{
		Store:   jobs,
		Queue:   q,
		Source:  subjects,
		Gen:     gen,
		Results: results,
		Policy:  policy,
		Audit:   audit,
		Log:     log.Named("worker"),
	})

	recovered, err := orch.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover orphaned jobs: %w", err)
	}
	if recovered > 0 {
		log.Info("re-dispatched orphaned jobs", zap.Int("count", recovered))
	}

	pool.Start(ctx)

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("jobstore", handlers.HealthCheckerFunc(jobs.Ping))
	health.RegisterChecker("subjects", handlers.HealthCheckerFunc(subjects.Ping))

	srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Deps{
		Orchestrator: orch,
		Artifacts:    artifacts,
		Health:       health,
		Log:          log.Named("http"),
		Version:      versionInfo.Version,
	})

	err = srv.Start(ctx,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		cfg.Server.IdleTimeout,
		cfg.Server.ShutdownTimeout)

	// Let in-flight attempts finish their conditional commits before
	// the stores close.
	stop()
	pool.Wait()

	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// buildResultStore constructs the configured result backend. The
// second return value is non-nil only for backends served through the
// artifact endpoint.
func buildResultStore(ctx context.Context, cfg *config.Config) (resultstore.Store, resultstore.ContentReader, error) {
	switch cfg.Results.Backend {
	case "", "file":
		fs, err := resultstore.NewFileStore(resultstore.FileConfig{
			Root:    cfg.Results.File.Root,
			Secret:  cfg.Results.File.Secret,
			BaseURL: cfg.Results.File.BaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open file result store: %w", err)
		}
		return fs, fs, nil

	case "s3":
		s3s, err := resultstore.NewS3Store(ctx, resultstore.S3Config{
			Bucket:          cfg.Results.S3.Bucket,
			Prefix:          cfg.Results.S3.Prefix,
			Region:          cfg.Results.S3.Region,
			Endpoint:        cfg.Results.S3.Endpoint,
			Profile:         cfg.Results.S3.Profile,
			AccessKeyID:     cfg.Results.S3.AccessKeyID,
			SecretAccessKey: cfg.Results.S3.SecretAccessKey,
			ForcePathStyle:  cfg.Results.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 result store: %w", err)
		}
		return s3s, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown results backend %q", cfg.Results.Backend)
	}
}
