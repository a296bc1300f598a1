package app

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ud-ai/InvestmentTracker/internal/infra"
)

// Bootstrap orchestrates the process-level startup: configuration, logging,
// workspace layout and the single-instance lock.
type Bootstrap struct {
	Config  *infra.Config
	WorkDir string // Workspace root
	UserDir string // Per-user data directory under WorkDir

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config at configPath, installs the logger and prepares
// the workspace. An empty configPath resolves the default location.
func (b *Bootstrap) Initialize(configPath string) error {
	if configPath == "" {
		configPath = infra.ResolveConfigPath()
	}

	// 1. Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping Investment Tracker...", slog.String("config", configPath))

	// 3. Workspace: <work>/users/<uid> keeps caches apart between accounts
	if b.WorkDir == "" {
		b.WorkDir = infra.GetWorkspaceDir()
	}
	b.UserDir = infra.UserDataDir(b.WorkDir, cfg.Remote.UserID)
	if err := infra.EnsureDir(b.UserDir); err != nil {
		return fmt.Errorf("failed to create user data dir: %w", err)
	}
	if err := infra.EnsureDir(filepath.Join(b.WorkDir, "logs")); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	// 4. Singleton instance lock: two processes must not share one SQLite cache
	unlock, err := infra.CreateLockFile(b.WorkDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	slog.Info("✅ Workspace ready",
		slog.String("workdir", b.WorkDir),
		slog.String("user", cfg.Remote.UserID))
	return nil
}

// CachePath is the SQLite cache file: the configured path or one per user.
func (b *Bootstrap) CachePath() string {
	if b.Config != nil && b.Config.Cache.Path != "" {
		return b.Config.Cache.Path
	}
	return filepath.Join(b.UserDir, "cache.db")
}

// Release removes the instance lock. Safe to call more than once.
func (b *Bootstrap) Release() {
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
}
