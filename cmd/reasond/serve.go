package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reasond/internal/audit"
	"reasond/internal/config"
	"reasond/internal/core"
	"reasond/internal/logging"
	"reasond/internal/server"
	"reasond/internal/session"
	"reasond/internal/subprocess"
	"reasond/internal/toolbox"
	"reasond/internal/toolbox/tools"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST reasoning server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultPath, "Path to the YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry := toolbox.NewManager(cfg.Tools.DefaultEvaluator)
	serverURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	err = tools.RegisterBuiltins(registry, tools.Config{
		EvaluatorURL: cfg.Tools.EvaluatorURL,
		LLMModel:     cfg.Tools.LLMModel,
		ServerURL:    serverURL,
	})
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	mgrCfg := session.Config{
		MaxSessions:      cfg.Sessions.MaxConcurrent,
		MaxPerPrincipal:  cfg.Sessions.MaxPerUser,
		MaxQueueDepth:    int32(cfg.Sessions.MaxQueueDepth),
		MaxInflightEvals: int64(cfg.Sessions.MaxInflightEvals),
		DefaultTimeoutMs: cfg.RuleEngine.DefaultEvalTimeoutMs,
		TTL:              cfg.SessionTTL(),
		DefaultLimits: core.ResourceLimits{
			MaxFacts:    cfg.Resources.MaxFacts,
			MaxRules:    cfg.Resources.MaxRules,
			MaxMemoryMB: cfg.Resources.MaxMemoryMB,
		},
		RuleMode:         cfg.RuleEngine.Mode,
		RuleDenyList:     cfg.RuleEngine.DenyList,
		LogicHomeDir:     cfg.LogicEngine.HomeDir,
		MaxSolutions:     cfg.LogicEngine.MaxSolutions,
	}
	if cfg.RuleEngine.Mode == session.ModeSubprocess {
		sub := subprocess.DefaultConfig(cfg.RuleEngine.BinaryPath)
		sub.Sentinel = cfg.RuleEngine.SentinelMarker
		sub.HandshakeTimeout = cfg.HandshakeTimeout()
		mgrCfg.Subprocess = sub
	}
	mgr := session.NewManager(mgrCfg, registry, logger)
	defer mgr.Close()

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mgr.SweepIdle()
			}
		}
	}()

	srv := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.RequestTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Version:        version,
	}, mgr, auditLog, logger)

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
