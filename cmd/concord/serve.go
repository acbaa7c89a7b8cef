package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KilimcininKorOglu/concord/internal/config"
	"github.com/KilimcininKorOglu/concord/internal/kv"
	"github.com/KilimcininKorOglu/concord/internal/logging"
	"github.com/KilimcininKorOglu/concord/internal/rest"
)

// member is one running cluster member: the replicated store and its HTTP API.
type member struct {
	cfg     *config.Config
	logger  logging.Logger
	backend *kv.ClusterBackend
	api     *rest.Server
}

// newMember builds a member from a validated configuration.
func newMember(cfg *config.Config, logger logging.Logger) (*member, error) {
	backend, err := kv.NewClusterBackend(&kv.ClusterBackendConfig{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	m := &member{cfg: cfg, logger: logger, backend: backend}
	if cfg.HTTP.Address != "" {
		apiCfg := rest.DefaultServerConfig()
		apiCfg.Address = cfg.HTTP.Address
		apiCfg.ReadTimeout = cfg.HTTP.ReadTimeout
		apiCfg.WriteTimeout = cfg.HTTP.WriteTimeout
		apiCfg.RateLimit = cfg.HTTP.RateLimit
		m.api = rest.NewServer(apiCfg, backend, logger)
	}
	return m, nil
}

func (m *member) start() error {
	if err := m.backend.Start(); err != nil {
		return err
	}
	if m.api != nil {
		if err := m.api.Start(); err != nil {
			m.backend.Stop()
			return err
		}
	}
	return nil
}

func (m *member) stop(ctx context.Context) error {
	var err error
	if m.api != nil {
		err = m.api.Stop(ctx)
	}
	m.backend.Stop()
	return err
}

// serveCmd handles the serve command.
func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	id := fs.Uint64("id", 0, "Member id (overrides config)")
	raftAddress := fs.String("raft-address", "", "Raft listen address (overrides config)")
	httpAddress := fs.String("http-address", "", "HTTP API listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "Data directory path (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printServeUsage(os.Stdout)
		return 0
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Command-line flags override the file; environment overrides both.
	if *id != 0 {
		cfg.Node.ID = *id
	}
	if *raftAddress != "" {
		cfg.Node.RaftAddr = *raftAddress
	}
	if *httpAddress != "" {
		cfg.HTTP.Address = *httpAddress
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	applyEnvOverrides(cfg)

	if !reportValidation(cfg) {
		return 1
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	m, err := newMember(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create member: %v\n", err)
		return 1
	}
	if err := m.start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start member: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			s := m.backend.Status()
			logger.Info("status",
				"role", s.Role,
				"term", s.Term,
				"leader", s.LeaderID,
				"commitIndex", s.CommitIndex,
				"lastApplied", s.LastApplied)
			continue
		}

		logger.Info("received signal, shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := m.stop(shutdownCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
			return 1
		}
		return 0
	}
	return 0
}
