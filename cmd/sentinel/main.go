package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/alerts"
	"github.com/ygarg25/hyperliquid-exporter/internal/config"
	"github.com/ygarg25/hyperliquid-exporter/internal/dashboard"
	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
	"github.com/ygarg25/hyperliquid-exporter/internal/metrics"
	"github.com/ygarg25/hyperliquid-exporter/internal/monitor"
	"github.com/ygarg25/hyperliquid-exporter/internal/ratelimit"
	"github.com/ygarg25/hyperliquid-exporter/internal/registry"
	"github.com/ygarg25/hyperliquid-exporter/internal/unjail"
)

//go:embed config.example.yml
var configExample []byte

func main() {
	logger.Init()

	configFile := flag.String("config", "", "path to config file")
	dataDir := flag.String("data-dir", "", "path to data directory")
	check := flag.Bool("check", false, "validate config and connectivity, then exit")
	flag.Parse()

	configPath, baseDir, err := resolveConfigPath(*configFile)
	if err != nil {
		logger.Error("INIT", "Failed to resolve config path: %v", err)
		os.Exit(1)
	}

	if err := ensureDefaultConfig(configPath, configExample); err != nil {
		logger.Error("INIT", "Failed to ensure default config: %v", err)
		os.Exit(1)
	}

	if *dataDir == "" {
		*dataDir = filepath.Join(baseDir, "data")
	}

	logger.Info("INIT", "Loading config from %s...", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("INIT", "Failed to load config: %v", err)
		os.Exit(1)
	}
	applyDataDirDefaults(cfg, *dataDir)
	if err := cfg.Validate(); err != nil {
		logger.Error("INIT", "Invalid config: %v", err)
		os.Exit(1)
	}
	logger.Info("INIT", "Config loaded. Chain: %s, Mode: %s", cfg.Chain.Name, cfg.Chain.Mode)

	limiter := ratelimit.NewLimiter(cfg.Advanced.RateLimit.MaxCalls, cfg.Advanced.RateLimit.WindowDuration())
	policy := hlapi.RetryPolicy{
		MaxAttempts:  cfg.Advanced.Retry.MaxAttempts,
		InitialDelay: cfg.Advanced.Retry.InitialDelayDuration(),
		MaxDelay:     cfg.Advanced.Retry.MaxDelayDuration(),
	}
	client := hlapi.NewClient(cfg.Chain.APIURL, cfg.Advanced.HTTPTimeoutDuration(), limiter, policy, cfg.Advanced.CacheTTLDuration())

	if *check {
		os.Exit(preflight(cfg, client))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	det := detector.New()
	reg := registry.New()
	exporter := metrics.NewExporter(cfg.Chain.Name)
	dispatcher := alerts.NewDispatcher(cfg.Alerts, cfg.Chain.Name, reg)
	store := detector.NewStateStore(cfg.Advanced.StateFile)

	var runner unjail.Runner
	if cfg.Unjail.Enabled {
		action, err := unjail.NewAction(cfg.Unjail.Binary, cfg.Unjail.Chain, cfg.Unjail.PrivateKey)
		if err != nil {
			logger.Error("INIT", "Unjail setup failed: %v", err)
			os.Exit(1)
		}
		logger.Info("INIT", "Unjail armed, signer %s", action.SignerAddress())
		runner = countingRunner{Runner: action, exporter: exporter}
	} else {
		runner = disabledRunner{}
		logger.Info("INIT", "Unjail disabled, monitor-only mode")
	}

	sink := func(ev detector.Event) { dispatcher.Dispatch(ctx, ev) }
	scheduler := unjail.NewScheduler(det, client, runner, sink,
		cfg.Unjail.InitialWaitDuration(), cfg.Unjail.RetryIntervalDuration(),
		cfg.Unjail.SettleWaitDuration(), cfg.Unjail.MaxAttempts)

	mon := monitor.New(cfg, client, det, reg, dispatcher, scheduler, exporter, store)

	dash := dashboard.NewServer(cfg, client, det, exporter)
	dash.Start(ctx)
	mon.SetBroadcaster(dash)

	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Start(ctx)
	}()

	logger.Info("SYS", "Hyperliquid Sentinel started (chain %s)", cfg.Chain.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("SYS", "Shutting down gracefully...")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("SYS", "Shutdown timeout, exiting anyway")
	}
}

// preflight validates credentials and connectivity without starting the
// monitor. Exit code is non-zero when any probe fails.
func preflight(cfg *config.Config, client *hlapi.Client) int {
	failed := false

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	roster, err := client.FetchRosterFresh(ctx)
	if err != nil {
		logger.Error("CHECK", "API unreachable: %v", err)
		failed = true
	} else {
		logger.Info("CHECK", "API ok: %d validators on roster", len(roster.Validators))
		if cfg.Chain.ValidatorAddress != "" {
			if _, ok := roster.Find(cfg.Chain.ValidatorAddress); ok {
				logger.Info("CHECK", "Validator %s found on roster", cfg.Chain.ValidatorAddress)
			} else {
				logger.Warn("CHECK", "Validator %s not on roster", cfg.Chain.ValidatorAddress)
			}
		}
	}

	if cfg.Unjail.Enabled {
		action, err := unjail.NewAction(cfg.Unjail.Binary, cfg.Unjail.Chain, cfg.Unjail.PrivateKey)
		if err != nil {
			logger.Error("CHECK", "Unjail setup: %v", err)
			failed = true
		} else {
			logger.Info("CHECK", "Signer key ok, address %s", action.SignerAddress())
			if _, err := os.Stat(cfg.Unjail.Binary); err != nil {
				// PATH lookup still possible, only warn.
				logger.Warn("CHECK", "Node binary not found at %s, relying on PATH", cfg.Unjail.Binary)
			}
		}
	}

	if cfg.Alerts.Telegram.Enabled && cfg.Alerts.Telegram.Token == "" {
		logger.Error("CHECK", "Telegram enabled but HLS_TELEGRAM_TOKEN is not set")
		failed = true
	}
	if cfg.Alerts.Twilio.Enabled {
		if cfg.Alerts.Twilio.AccountSID == "" || cfg.Alerts.Twilio.AuthToken == "" {
			logger.Error("CHECK", "Twilio enabled but credentials are not set")
			failed = true
		}
		for _, num := range cfg.Alerts.Twilio.CallNumbers {
			if _, err := alerts.FormatPhoneNumber(num); err != nil {
				logger.Error("CHECK", "Bad call number %q: %v", num, err)
				failed = true
			}
		}
	}

	if failed {
		return 1
	}
	logger.Info("CHECK", "All checks passed")
	return 0
}

// countingRunner counts every submitted action before delegating.
type countingRunner struct {
	unjail.Runner
	exporter *metrics.Exporter
}

func (c countingRunner) Unjail(ctx context.Context) error {
	c.exporter.RecordAttempt()
	return c.Runner.Unjail(ctx)
}

// disabledRunner keeps the scheduler wired in monitor-only mode. It
// never fires because nothing schedules tasks when unjail is off.
type disabledRunner struct{}

func (disabledRunner) Unjail(context.Context) error {
	return fmt.Errorf("unjail is disabled")
}
func (disabledRunner) SignerAddress() string { return "" }

func resolveConfigPath(configFile string) (string, string, error) {
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return "", "", err
		}
		return abs, filepath.Dir(abs), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	baseDir := filepath.Join(home, ".hl-sentinel")
	return filepath.Join(baseDir, "config.yml"), baseDir, nil
}

func ensureDefaultConfig(path string, example []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if len(example) == 0 {
		return fmt.Errorf("embedded config.example.yml is empty")
	}

	return os.WriteFile(path, example, 0o644)
}

func applyDataDirDefaults(cfg *config.Config, dataDir string) {
	if cfg.Advanced.StateFile == "" {
		cfg.Advanced.StateFile = filepath.Join(dataDir, "sentinel-state.json")
	}
}
