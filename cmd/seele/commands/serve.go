package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/observability"
	"github.com/Candlest/seele/internal/supervisor"
)

const schedulerMeterName = "seele.scheduler"

// NewServeCommand builds the `serve` subcommand: it loads configuration,
// wires every subsystem, pins the worker pool to distinct CPUs, and blocks
// until interrupted.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the judge's HTTP ingress, composer, and worker pool",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the judge config file")

	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reader, registry, err := observability.NewPrometheusReader()
	if err != nil {
		return fmt.Errorf("init prometheus reader: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()

	metrics, err := observability.NewJudgeMetrics(meterProvider.Meter("seele.judge"))
	if err != nil {
		return fmt.Errorf("init judge metrics: %w", err)
	}

	diagAddr := fmt.Sprintf("%s:%d", cfg.Diagnostics.Address, cfg.Diagnostics.Port)

	diag, err := observability.NewDiagnosticsServer(diagAddr, meterProvider.Meter(schedulerMeterName), registry)
	if err != nil {
		return fmt.Errorf("start diagnostics server: %w", err)
	}
	defer func() { _ = diag.Close() }()

	sup, err := supervisor.New(cfg, metrics)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	if err := sup.InitCgroups("/sys/fs/cgroup"); err != nil {
		return fmt.Errorf("initialize cgroup topology: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return sup.Run(ctx)
}
