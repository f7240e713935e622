// Command optionstrike runs the semi-autonomous options trading engine.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/optionstrike/engine/internal/audit"
	"github.com/optionstrike/engine/internal/broker"
	"github.com/optionstrike/engine/internal/clock"
	"github.com/optionstrike/engine/internal/config"
	"github.com/optionstrike/engine/internal/executor"
	"github.com/optionstrike/engine/internal/httpapi"
	"github.com/optionstrike/engine/internal/logging"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/metrics"
	"github.com/optionstrike/engine/internal/orchestrator"
	"github.com/optionstrike/engine/internal/playstore"
	"github.com/optionstrike/engine/internal/playtypes"
	"github.com/optionstrike/engine/internal/risk"
	"github.com/optionstrike/engine/internal/safety"
	"github.com/optionstrike/engine/internal/secrets"
	"github.com/optionstrike/engine/internal/strategy"
	"github.com/optionstrike/engine/internal/trailing"
)

const envDataRoot = "OPTIONSTRIKE_DATA_ROOT"
const envSecretsPassphrase = "OPTIONSTRIKE_SECRETS_PASSPHRASE"

var log = logging.For("main")

func main() {
	os.Exit(run(os.Args[1:]))
}

// Exit codes per spec.md §6: 0 success, 1 config error, 2 validation error,
// 3 broker auth failure, 4 internal error.
func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: optionstrike <run|once|status|validate> [flags]")
		return 1
	}
	subcommand, rest := args[0], args[1:]

	dataRoot := os.Getenv(envDataRoot)
	if dataRoot == "" {
		fmt.Fprintf(os.Stderr, "%s must be set to the data root directory\n", envDataRoot)
		return 1
	}

	fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
	configPath := fs.String("config", filepath.Join(dataRoot, "config.yaml"), "path to config.yaml")
	dryRun := fs.Bool("dry-run", false, "override orchestration.dry_run to true")
	addr := fs.String("addr", ":8090", "ops HTTP API listen address")
	totpCode := fs.String("totp-code", "", "TOTP confirmation code required to start live (non-dry-run) trading")
	_ = fs.Parse(rest)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("loading config: %v", err)
		return 1
	}
	if *dryRun || subcommand == "dry-run" {
		cfg.Orchestration.DryRun = true
	}
	logging.SetLevel("info")

	store, err := playstore.New(filepath.Join(dataRoot, "plays"))
	if err != nil {
		log.Errorf("opening play store: %v", err)
		return 4
	}

	switch subcommand {
	case "validate":
		return cmdValidate(store)
	case "status":
		return cmdStatus(store)
	case "once":
		return cmdRun(cfg, store, dataRoot, *addr, *totpCode, true)
	case "run", "dry-run":
		return cmdRun(cfg, store, dataRoot, *addr, *totpCode, false)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", subcommand)
		return 1
	}
}

func cmdValidate(store *playstore.Store) int {
	bad := 0
	for _, st := range playtypes.AllStates {
		ids, err := store.List(st)
		if err != nil {
			log.Errorf("listing %s: %v", st, err)
			return 4
		}
		for _, id := range ids {
			if _, err := store.Load(id); err != nil {
				log.Warnf("play %s failed validation: %v", id, err)
				bad++
			}
		}
	}
	if bad > 0 {
		fmt.Fprintf(os.Stdout, "%d play(s) quarantined\n", bad)
		return 2
	}
	fmt.Fprintln(os.Stdout, "all plays valid")
	return 0
}

func cmdStatus(store *playstore.Store) int {
	for _, st := range playtypes.AllStates {
		ids, err := store.List(st)
		if err != nil {
			log.Errorf("listing %s: %v", st, err)
			return 4
		}
		fmt.Fprintf(os.Stdout, "%-16s %d\n", st, len(ids))
	}
	return 0
}

func cmdRun(cfg *config.Config, store *playstore.Store, dataRoot, addr, totpCode string, once bool) int {
	mkt, err := clock.NewMarket(cfg.Market.Timezone, nil)
	if err != nil {
		log.Errorf("building market clock: %v", err)
		return 1
	}

	if cfg.Safety.LiveTradingEnabled && !cfg.Orchestration.DryRun {
		gate := safety.NewGate(cfg.Safety.TOTPSecretEnv)
		if err := gate.Confirm(totpCode); err != nil {
			log.Errorf("live-trading safety gate: %v", err)
			return 1
		}
	}

	var providers []marketdata.Provider
	for _, pc := range cfg.MarketData.Providers {
		if !pc.Enabled {
			continue
		}
		apiKey, err := resolveAPIKey(pc.APIKey, pc.APIKeyEncrypted, pc.APIKeySalt)
		if err != nil {
			log.Errorf("resolving market data provider %q api key: %v", pc.Name, err)
			return 1
		}
		providers = append(providers, marketdata.NewRESTProvider(pc.Name, pc.BaseURL, apiKey, 0))
	}
	if len(providers) == 0 {
		log.Errorf("no enabled market data providers configured")
		return 1
	}
	gateway := marketdata.NewGateway(providers, 0, metrics.RecordFallback)

	acct := cfg.DefaultBrokerAccount()
	brokerKey, err := resolveAPIKey(acct.APIKey, acct.APIKeyEncrypted, acct.APIKeySalt)
	if err != nil {
		log.Errorf("resolving broker account %q api key: %v", acct.Name, err)
		return 1
	}
	brk := broker.NewRESTBroker(acct.BaseURL, brokerKey, acct.AccountID)

	authCtx, authCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_, err = brk.GetAccount(authCtx)
	authCancel()
	if err != nil {
		log.Errorf("broker authentication check failed: %v", err)
		return 3
	}

	auditLogPath := filepath.Join(dataRoot, "logs", "audit.jsonl")
	if err := os.MkdirAll(filepath.Dir(auditLogPath), 0o755); err != nil {
		log.Errorf("creating audit log directory: %v", err)
		return 4
	}
	auditFile, err := os.OpenFile(auditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- path built from operator-controlled data root
	if err != nil {
		log.Errorf("opening audit log: %v", err)
		return 4
	}
	defer auditFile.Close()
	trail := audit.New(auditFile)

	ledger, err := audit.OpenLedger(filepath.Join(dataRoot, "audit.db"))
	if err != nil {
		log.Errorf("opening audit ledger: %v", err)
		return 4
	}
	defer ledger.Close()
	trail = trail.WithLedger(ledger)

	gate := risk.New(risk.Limits{
		MaxNotionalLeverage:  cfg.Risk.MaxNotionalLeverage,
		MaxCapitalAllocation: cfg.Risk.MaxCapitalAllocation,
	})
	exec := executor.New(store, brk, gateway, gate, trail, cfg.Orchestration.DryRun)
	trailMgr := trailing.New(gateway, trail)

	deps := strategy.Deps{
		Store:    store,
		Gateway:  gateway,
		Broker:   brk,
		Executor: exec,
		Trailing: trailMgr,
		Clock:    mkt,
	}

	registry := strategy.NewRegistry()
	registry.Register("manual", strategy.NewManualSwings)
	registry.Register("momentum", strategy.NewMomentum)
	registry.Register("short_puts", strategy.NewShortPuts)
	registry.Register("spreads", strategy.NewSpreads)

	var runners []strategy.Runner
	for tag, block := range cfg.Strategies {
		r, err := registry.Build(tag, deps, block)
		if err != nil {
			log.Warnf("strategy tag %q: %v", tag, err)
			continue
		}
		runners = append(runners, r)
	}
	legacy, err := strategy.NewManualSwings(deps, map[string]interface{}{"tag": "manual"})
	if err != nil {
		log.Errorf("building legacy fallback runner: %v", err)
		return 4
	}

	orch := orchestrator.New(orchestrator.Config{
		Enabled:            cfg.Orchestration.Enabled,
		Mode:               orchestrator.Mode(cfg.Orchestration.Mode),
		MaxParallelWorkers: cfg.Orchestration.MaxParallelWorkers,
		TickInterval:       cfg.TickInterval(),
		FallbackToLegacy:   cfg.Orchestration.FallbackToLegacy,
		DryRun:             cfg.Orchestration.DryRun,
	}, runners, legacy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		if err := orch.RunOnce(ctx); err != nil {
			log.Errorf("tick failed: %v", err)
			return 4
		}
		return 0
	}

	api := httpapi.New(store)
	go func() {
		if err := api.Run(addr); err != nil {
			log.Warnf("ops HTTP API stopped: %v", err)
		}
	}()

	if err := orch.Run(ctx); err != nil {
		log.Errorf("orchestrator stopped: %v", err)
		return 4
	}
	return 0
}

// resolveAPIKey returns plain as-is unless encrypted is set, in which case
// it decrypts it with a key derived from OPTIONSTRIKE_SECRETS_PASSPHRASE
// and the base64 salt persisted alongside the ciphertext in config.yaml.
func resolveAPIKey(plain, encrypted, saltB64 string) (string, error) {
	if encrypted == "" {
		return plain, nil
	}
	passphrase := os.Getenv(envSecretsPassphrase)
	if passphrase == "" {
		return "", fmt.Errorf("%s must be set to decrypt an api_key_encrypted value", envSecretsPassphrase)
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", fmt.Errorf("decoding api_key_salt: %w", err)
	}
	box := secrets.NewBox(passphrase, salt)
	key, err := box.Open(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting api key: %w", err)
	}
	return string(key), nil
}
