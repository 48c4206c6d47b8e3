package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/engine-driver/client"
	"github.com/mantlenetworkio/engine-driver/engine"
	"github.com/mantlenetworkio/engine-driver/metrics"
	"github.com/mantlenetworkio/engine-driver/retry"
)

var (
	EngineEndpointFlag = &cli.StringFlag{
		Name:     "engine",
		Usage:    "Authenticated engine API endpoint of the execution node (HTTP, WS or IPC)",
		EnvVars:  []string{"ENGINED_ENGINE"},
		Required: true,
	}
	EngineJWTSecretFlag = &cli.StringFlag{
		Name:    "engine.jwt-secret",
		Usage:   "Path to the hex-encoded 32-byte JWT secret shared with the execution node",
		EnvVars: []string{"ENGINED_ENGINE_JWT_SECRET"},
	}
	ReorgDepthLimitFlag = &cli.Uint64Flag{
		Name:    "reorg-depth-limit",
		Usage:   "Maximum unsafe-chain reorg depth to resolve automatically",
		EnvVars: []string{"ENGINED_REORG_DEPTH_LIMIT"},
		Value:   engine.DefaultConfig().ReorgDepthLimit,
	}
	RetryAttemptsFlag = &cli.IntFlag{
		Name:    "retry.attempts",
		Usage:   "Attempt budget for transient engine failures, per call",
		EnvVars: []string{"ENGINED_RETRY_ATTEMPTS"},
		Value:   retry.DefaultPolicy().MaxAttempts,
	}
	RetryBaseDelayFlag = &cli.DurationFlag{
		Name:    "retry.base-delay",
		Usage:   "Initial backoff delay between retry attempts",
		EnvVars: []string{"ENGINED_RETRY_BASE_DELAY"},
		Value:   retry.DefaultPolicy().BaseDelay,
	}
	RetryMaxDelayFlag = &cli.DurationFlag{
		Name:    "retry.max-delay",
		Usage:   "Upper bound on the backoff delay between retry attempts",
		EnvVars: []string{"ENGINED_RETRY_MAX_DELAY"},
		Value:   retry.DefaultPolicy().MaxDelay,
	}
	CallTimeoutFlag = &cli.DurationFlag{
		Name:    "engine.call-timeout",
		Usage:   "Timeout per engine API call",
		EnvVars: []string{"ENGINED_ENGINE_CALL_TIMEOUT"},
		Value:   client.DefaultCallTimeout,
	}
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:    "metrics.enabled",
		Usage:   "Enable the Prometheus metrics server",
		EnvVars: []string{"ENGINED_METRICS_ENABLED"},
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics.addr",
		Usage:   "Metrics listening address",
		EnvVars: []string{"ENGINED_METRICS_ADDR"},
		Value:   "0.0.0.0",
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:    "metrics.port",
		Usage:   "Metrics listening port",
		EnvVars: []string{"ENGINED_METRICS_PORT"},
		Value:   7300,
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "Lowest log level to show (trace|debug|info|warn|error|crit)",
		EnvVars: []string{"ENGINED_LOG_LEVEL"},
		Value:   "info",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "engined"
	app.Usage = "Drives an execution node's chain head from the rollup node's canonical view"
	app.Flags = []cli.Flag{
		EngineEndpointFlag,
		EngineJWTSecretFlag,
		ReorgDepthLimitFlag,
		RetryAttemptsFlag,
		RetryBaseDelayFlag,
		RetryMaxDelayFlag,
		CallTimeoutFlag,
		MetricsEnabledFlag,
		MetricsAddrFlag,
		MetricsPortFlag,
		LogLevelFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	logger, err := newLogger(cliCtx.String(LogLevelFlag.Name))
	if err != nil {
		return err
	}

	cfg := engine.DefaultConfig()
	cfg.ReorgDepthLimit = cliCtx.Uint64(ReorgDepthLimitFlag.Name)
	cfg.Retry = retry.Policy{
		MaxAttempts: cliCtx.Int(RetryAttemptsFlag.Name),
		BaseDelay:   cliCtx.Duration(RetryBaseDelayFlag.Name),
		MaxDelay:    cliCtx.Duration(RetryMaxDelayFlag.Name),
	}
	if err := cfg.Check(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	secret, err := client.ObtainJWTSecret(logger, cliCtx.String(EngineJWTSecretFlag.Name), false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics("default")
	engineClient, err := client.DialEngine(ctx, logger, m, cliCtx.String(EngineEndpointFlag.Name), secret,
		client.EngineClientConfig{CallTimeout: cliCtx.Duration(CallTimeoutFlag.Name)})
	if err != nil {
		return err
	}

	driver, err := engine.NewDriver(logger, m, cfg, engineClient)
	if err != nil {
		engineClient.Close()
		return err
	}
	if err := driver.Start(ctx); err != nil {
		engineClient.Close()
		return err
	}

	var metricsSrv *http.Server
	if cliCtx.Bool(MetricsEnabledFlag.Name) {
		addr := net.JoinHostPort(cliCtx.String(MetricsAddrFlag.Name),
			strconv.Itoa(cliCtx.Int(MetricsPortFlag.Name)))
		metricsSrv = &http.Server{
			Addr:    addr,
			Handler: promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}),
		}
		go func() {
			logger.Info("Serving metrics", "addr", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	var result *multierror.Error
	result = multierror.Append(result, driver.Close())
	engineClient.Close()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result = multierror.Append(result, metricsSrv.Shutdown(shutdownCtx))
	}
	return result.ErrorOrNil()
}

func newLogger(level string) (log.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	handler := log.NewTerminalHandlerWithLevel(os.Stdout, lvl, true)
	logger := log.NewLogger(handler)
	log.SetDefault(logger)
	return logger, nil
}
