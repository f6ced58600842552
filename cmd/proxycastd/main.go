// Command proxycastd is the gateway process entrypoint: it loads and
// validates the YAML config, wires C1-C11 together, registers the provider
// drivers through their init() functions (restkey via blank import; kiro and
// antigravity are imported directly, which also supplies their RefreshToken
// functions to the token cache), and serves the HTTP surface until an interrupt signal asks
// it to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sicyuan404/proxycast/internal/config"
	"github.com/sicyuan404/proxycast/internal/credential"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/httpapi"
	"github.com/sicyuan404/proxycast/internal/inject"
	"github.com/sicyuan404/proxycast/internal/pipeline"
	"github.com/sicyuan404/proxycast/internal/provider/antigravity"
	"github.com/sicyuan404/proxycast/internal/provider/kiro"
	_ "github.com/sicyuan404/proxycast/internal/provider/restkey" // registers OpenAI/Claude/Vertex/Gemini/Codex/Qwen/iFlow key driver
	"github.com/sicyuan404/proxycast/internal/ratelimit"
	"github.com/sicyuan404/proxycast/internal/reload"
	"github.com/sicyuan404/proxycast/internal/routing"
	"github.com/sicyuan404/proxycast/internal/scheduler"
	"github.com/sicyuan404/proxycast/internal/telemetry"
	"github.com/sicyuan404/proxycast/internal/tokencache"
)

func getDefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "proxycast")
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file (default: <data>/config.yaml)")
	dataDir := flag.String("data", "", "Data directory for database and config (default: ~/.config/proxycast)")
	addr := flag.String("addr", "", "Override the server bind address (host:port) from config")
	flag.Parse()

	dataDirPath := *dataDir
	if dataDirPath == "" {
		if env := os.Getenv("PROXYCAST_DATA_DIR"); env != "" {
			dataDirPath = env
		} else {
			dataDirPath = getDefaultDataDir()
		}
	}
	if err := os.MkdirAll(dataDirPath, 0o755); err != nil {
		log.Fatalf("[proxycastd] failed to create data directory %s: %v", dataDirPath, err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dataDirPath, "config.yaml")
	}

	cfg, err := loadOrInitConfig(cfgPath, dataDirPath)
	if err != nil {
		log.Fatalf("[proxycastd] config: %v", err)
	}

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(dataDirPath, "proxycast.db")
	}
	sqliteStore, err := credential.OpenSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("[proxycastd] failed to open credential database %s: %v", dbPath, err)
	}

	creds := credential.New(sqliteStore)
	if err := creds.Load(); err != nil {
		log.Printf("[proxycastd] warning: failed to load credentials: %v", err)
	}
	for _, cred := range creds.GetByKind(domain.KindKiroOAuth) {
		kiro.AssembleKiroFile(cred)
	}

	tokens := tokencache.New(creds)
	tokens.RegisterRefresher(domain.KindKiroOAuth, kiro.RefreshToken)
	tokens.RegisterRefresher(domain.KindAntigravityOAuth, antigravity.RefreshToken)

	rateLimits := ratelimit.New(cfg.Retry.BaseBackoff, cfg.Retry.MaxBackoff)
	sched := scheduler.New(rateLimits, scheduler.DefaultConfig())
	router := routing.New()
	injector := inject.New()
	hub := telemetry.NewHub()

	pipe := pipeline.New(cfg, creds, tokens, rateLimits, sched, router, injector, hub)

	bindAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if *addr != "" {
		bindAddr = *addr
	}

	server := httpapi.New(bindAddr, cfgPath, pipe, creds, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloadMgr, err := reload.New(cfgPath, pipe)
	if err != nil {
		log.Printf("[proxycastd] warning: hot-reload disabled: %v", err)
	} else {
		go reloadMgr.Run(ctx)
	}

	if err := server.Start(ctx); err != nil {
		log.Fatalf("[proxycastd] failed to start server: %v", err)
	}
	log.Printf("[proxycastd] listening on %s (data dir %s, config %s)", bindAddr, dataDirPath, cfgPath)

	<-ctx.Done()
	log.Println("[proxycastd] shutting down")

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("[proxycastd] shutdown error: %v", err)
	}
}

// loadOrInitConfig loads cfgPath if present, or writes out the validated
// default config so the hot-reload manager's fsnotify watch always has a
// file to watch from first boot.
func loadOrInitConfig(cfgPath, dataDirPath string) (*config.Config, error) {
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.Default()
		cfg.DatabasePath = filepath.Join(dataDirPath, "proxycast.db")
		cfg.LogDir = dataDirPath
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("default config failed validation: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("writing initial config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config at %s: %w", cfgPath, err)
	}
	return cfg, nil
}
