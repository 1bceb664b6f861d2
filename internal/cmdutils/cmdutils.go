// Package cmdutils builds the link-checkout subcommands. A command is either
// a job, which runs once and exits, or a service, which exports telemetry and
// serves liveness and readiness until it is stopped.
package cmdutils

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/openkcm/common-sdk/pkg/status"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/internal/config"
)

const (
	healthStatusTimeout = 5 * time.Second

	// ModeAnnotation marks a command as a job or a service.
	ModeAnnotation = "link-checkout/mode"
	modeJob        = "job"
	modeService    = "service"
)

// Job is work that runs to completion.
type Job func(ctx context.Context, cfg *config.Config) error

// Service is long running work. Its checks make up the readiness probe.
type Service interface {
	Run(ctx context.Context) error
	Checks() []health.Check
}

// ServiceFactory prepares a service from the loaded configuration.
type ServiceFactory func(ctx context.Context, cfg *config.Config) (Service, error)

// JobCommand returns a command that loads the configuration, initialises the
// logger and runs job once.
func JobCommand(use, short, long, buildInfo string, job Job) *cobra.Command {
	return command(use, short, long, buildInfo, modeJob, func(ctx context.Context, cfg *config.Config) error {
		return runJob(ctx, job, cfg)
	})
}

// ServiceCommand returns a command that prepares the service built by
// factory, starts the status server with its checks and runs it.
func ServiceCommand(use, short, long, buildInfo string, factory ServiceFactory) *cobra.Command {
	return command(use, short, long, buildInfo, modeService, func(ctx context.Context, cfg *config.Config) error {
		return runService(ctx, factory, cfg)
	})
}

// IsService reports whether cmd was built by ServiceCommand.
func IsService(cmd *cobra.Command) bool {
	return cmd != nil && cmd.Annotations[ModeAnnotation] == modeService
}

func command(use, short, long, buildInfo, mode string, run func(context.Context, *config.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Long:        long,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{ModeAnnotation: mode},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(buildInfo)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := initLogger(cmd.Context(), cfg, mode); err != nil {
				return err
			}

			if err := run(cmd.Context(), cfg); err != nil {
				return fmt.Errorf("running %s: %w", use, err)
			}

			return nil
		},
	}
}

func initLogger(ctx context.Context, cfg *config.Config, mode string) error {
	err := logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").Wrapf(err, "Failed to initialise the logger")
	}
	slogctx.Debug(ctx, "Starting link-checkout", "mode", mode, slog.Any("config", cfg))

	return nil
}

func runJob(ctx context.Context, job Job, cfg *config.Config) error {
	if err := job(ctx, cfg); err != nil {
		return oops.In("job").Wrapf(err, "Failed to run the job")
	}
	return nil
}

func runService(ctx context.Context, factory ServiceFactory, cfg *config.Config) error {
	err := otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger)
	if err != nil {
		return oops.In("service").Wrapf(err, "Failed to load the telemetry")
	}

	svc, err := factory(ctx, cfg)
	if err != nil {
		return oops.In("service").Wrapf(err, "Failed to prepare the service")
	}

	go func() {
		err := startStatusServer(ctx, cfg, svc.Checks())
		if err != nil {
			slogctx.Error(ctx, "Failure on the status server", "error", err)
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		}
	}()

	if err := svc.Run(ctx); err != nil {
		return oops.In("service").Wrapf(err, "Failed to run the service")
	}

	return nil
}

func loadConfig(buildInfo string) (*config.Config, error) {
	cfg := &config.Config{}

	err := commoncfg.LoadConfig(
		cfg,
		map[string]any{},
		"/etc/link-checkout",
		"$HOME/.link-checkout",
		".",
	)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	err = commoncfg.UpdateConfigVersion(&cfg.BaseConfig, buildInfo)
	if err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	return cfg, nil
}

// readinessChecker aggregates the service checks. Each one is run on request
// and bounded by healthStatusTimeout.
func readinessChecker(checks []health.Check) health.Checker {
	return health.NewChecker(
		health.WithDisabledAutostart(),
		health.WithTimeout(healthStatusTimeout),
		health.WithChecks(checks...),
		health.WithStatusListener(statusListener),
	)
}

func startStatusServer(ctx context.Context, cfg *config.Config, checks []health.Check) error {
	liveness := status.WithLiveness(
		health.NewHandler(
			health.NewChecker(health.WithDisabledAutostart()),
		),
	)
	readiness := status.WithReadiness(
		health.NewHandler(readinessChecker(checks)),
	)

	err := status.Start(ctx, &cfg.BaseConfig, liveness, readiness)
	if err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}

	return nil
}

func statusListener(ctx context.Context, state health.State) {
	attrs := make([]any, 0, 2+2*len(state.CheckState))
	attrs = append(attrs, "status", state.Status)
	for name, check := range state.CheckState {
		attrs = append(attrs, "check_"+name, check.Status)
	}
	slogctx.Info(ctx, "readiness status changed", attrs...)
}
