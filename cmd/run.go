package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/spf13/cobra"

	"github.com/cloudmirror/probe/internal/alert"
	"github.com/cloudmirror/probe/internal/config"
	"github.com/cloudmirror/probe/internal/coordinator"
	"github.com/cloudmirror/probe/internal/flowtable"
	"github.com/cloudmirror/probe/internal/logging"
	"github.com/cloudmirror/probe/internal/metadata"
	"github.com/cloudmirror/probe/internal/metrics"
	"github.com/cloudmirror/probe/internal/worker"
)

// metricsShutdownGrace bounds how long the metrics server gets to
// drain its last scrape before the process exits.
const metricsShutdownGrace = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the probe in the foreground",
	Long: `run starts every ingest worker, the metadata cache refresher, the
metrics server, and the coordinator's report loop, and blocks until
SIGTERM/SIGINT. Foreground-only: systemd (or an equivalent supervisor)
owns restart and process management, matching the teacher's
"--foreground" daemon-minus-daemonization mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runProbe(cmd.Context()); err != nil {
			exitWithError("probe startup failed", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runProbe performs the full startup sequence: config, logging, AWS
// clients, metadata cache, alert engine, worker pool, metrics server,
// coordinator — then blocks on the coordinator's run loop until ctx
// is cancelled by an OS signal.
func runProbe(parent context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	cache := metadata.New(ec2.NewFromConfig(awsCfg), cfg.VPCID)
	if err := cache.Start(ctx); err != nil {
		return fmt.Errorf("start metadata cache: %w", err)
	}

	var sinks []alert.Sink
	if cfg.SNSTopicARN != "" {
		sinks = append(sinks, alert.NewSNSSink(sns.NewFromConfig(awsCfg), cfg.SNSTopicARN))
	}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.SlackWebhookURL))
	}
	engine := alert.NewEngine(alert.Thresholds{
		BPS:         cfg.AlertThresholdBPS,
		PPS:         cfg.AlertThresholdPPS,
		HostBPS:     cfg.AlertHostBPS,
		HostPPS:     cfg.AlertHostPPS,
		CooldownSec: cfg.AlertCooldownSec,
	}, sinks...)

	workers := make([]*worker.Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		w, err := worker.New(i, flowtable.DefaultCapacity, cfg.SampleRate)
		if err != nil {
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddr, "")
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	slog.Info("probe starting", "workers", len(workers), "sample_rate", cfg.SampleRate, "metrics_addr", cfg.MetricsAddr)

	coord := coordinator.New(workers, cache, engine)
	coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		slog.Warn("metrics server stop error", "error", err)
	}
	for _, w := range workers {
		if err := w.Close(); err != nil {
			slog.Warn("worker socket close error", "error", err)
		}
	}

	slog.Info("probe stopped")
	return nil
}
