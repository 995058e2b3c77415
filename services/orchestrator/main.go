package orchestrator

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"lendingctl/console"
	"lendingctl/internal/passphrase"
	"lendingctl/ledger"
	"lendingctl/observability/logging"
	telemetry "lendingctl/observability/otel"
)

const serviceName = "lendingctl"

var errNoNetwork = errors.New("no network selected")

// Main parses flags, loads configuration and executes one run against the
// selected network.
func Main() error {
	defaultNetwork := "local"
	if env := strings.TrimSpace(os.Getenv("LENDINGCTL_NETWORK")); env != "" {
		defaultNetwork = env
	}
	var cfgPath, networkName string
	flag.StringVar(&cfgPath, "config", "lendingctl.yaml", "path to lendingctl configuration")
	flag.StringVar(&networkName, "network", defaultNetwork, "network to run against (env LENDINGCTL_NETWORK)")
	flag.Parse()

	networkName = strings.TrimSpace(networkName)
	if networkName == "" {
		return errNoNetwork
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(parseLevel(cfg.Logging.Level))}
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))
	} else {
		// Announcements own stdout.
		logOpts = append(logOpts, logging.WithWriter(os.Stderr))
	}
	logger, closeLog := logging.Setup(serviceName, networkName, logOpts...)
	defer closeLog.Close()
	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))

	telemetryCfg := telemetry.ConfigFromEnv(serviceName, networkName)
	telemetryCfg.RunID = runID
	if telemetryCfg.Enabled() {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(ctx)
		}()
	}

	network, err := cfg.Network(networkName)
	if err != nil {
		return err
	}
	identities, err := network.Identities(passphrase.NewSource)
	if err != nil {
		return fmt.Errorf("network %s identities: %w", networkName, err)
	}
	plan, err := cfg.Plan(network)
	if err != nil {
		return fmt.Errorf("network %s plan: %w", networkName, err)
	}
	artifacts, err := loadArtifacts(cfg.Artifacts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evmCfg := ledger.EVMConfig{
		URL:                 network.RPCURL,
		PollInterval:        cfg.PollInterval.Duration,
		ConfirmationTimeout: cfg.ConfirmationTimeout.Duration,
		RateLimit:           network.RateLimit,
		TimeTravel:          network.TimeTravel,
		Logger:              logger,
	}
	if network.ChainID != 0 {
		evmCfg.ChainID = new(big.Int).SetUint64(network.ChainID)
	}
	client, err := ledger.Dial(ctx, evmCfg, identities)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("connected",
		slog.String("chain_id", client.ChainID().String()),
		slog.String("owner", identities[0].Address.Hex()),
		slog.Int("identities", len(identities)))

	opts := []Option{
		WithConsole(console.New(console.DefaultStyles(), os.Stdout)),
		WithLogger(logger),
		WithConfirmations(cfg.Confirmations),
	}
	if plan.Verify {
		verifier, err := NewEtherscanVerifier(cfg.Verification, artifacts)
		if err != nil {
			return fmt.Errorf("configure verification: %w", err)
		}
		opts = append(opts, WithVerifier(verifier))
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		shutdownStatus, err := serveStatus(listen, prometheus.DefaultGatherer, logger)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownStatus(shutdownCtx)
		}()
	}

	controller, err := New(client, artifacts, plan, opts...)
	if err != nil {
		return err
	}
	report, err := controller.Run(ctx)
	if err != nil {
		return err
	}
	for _, step := range report.Failures() {
		logger.Warn("recoverable failure",
			slog.String("phase", step.Phase),
			slog.String("operation", step.Operation),
			slog.String("subject", step.Subject),
			slog.Any("error", step.Err))
	}
	return nil
}

func loadArtifacts(cfg ArtifactsConfig) (Artifacts, error) {
	token, err := ledger.LoadArtifact(cfg.Token)
	if err != nil {
		return Artifacts{}, fmt.Errorf("token artifact: %w", err)
	}
	lending, err := ledger.LoadArtifact(cfg.Lending)
	if err != nil {
		return Artifacts{}, fmt.Errorf("lending artifact: %w", err)
	}
	return Artifacts{Token: token, Lending: lending}, nil
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
