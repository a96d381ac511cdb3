package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/config"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/inventory"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/report"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/sync"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	modsDir   string
	logLevel  string
	logFormat string
	assumeYes bool

	// Command flags
	dryRun       bool
	showProgress bool
	outputFormat string
	initURL      string
	initForce    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modupdater",
	Short: "Keep a Minecraft client's mods folder in sync with a remote catalog",
	Long: `modupdater compares the mod archives in the local mods folder with the
catalog published by a server and downloads, replaces or removes archives so the
client matches it.

Mods are identified by the metadata inside each archive. Archives whose mod
cannot be identified are never touched.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update the mods folder from the remote catalog",
	Long: `Sync scans the mods folder, fetches the catalog of every enabled channel and
applies the resulting plan: outdated and duplicate archives are deleted, missing
ones downloaded, and mods flagged by the server are re-downloaded.

An empty mods folder is provisioned from the channel bulk archives.`,
	RunE: runSync,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what sync would do",
	Long: `Plan computes the same plan as sync and prints it without changing the mods
folder or the force-update log.`,
	RunE: runPlan,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modupdater %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultFileName+" next to the executable)")
	rootCmd.PersistentFlags().StringVar(&modsDir, "mods-dir", "", "mods folder (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every confirmation")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&showProgress, "progress", true, "show download progress bars")

	// Plan command flags
	planCmd.Flags().StringVarP(&outputFormat, "output", "o", string(report.FormatTable), "output format (table, yaml, json)")

	// Init command flags
	initCmd.Flags().StringVar(&initURL, "url", "", "remote catalog base URL")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !dryRun {
		if err := ensureModsDir(logger, cfg.ModsDir); err != nil {
			return err
		}
	}

	// Create dependencies
	client := remote.NewHTTPClient(remote.Options{
		Retries:  cfg.HTTP.Retries,
		Timeout:  cfg.HTTP.Timeout,
		Progress: showProgress && logFormat != "json",
	}, logger)

	// Create sync engine
	engine := sync.NewEngine(cfg, afero.NewOsFs(), client, logger, dryRun)

	// Run sync
	logger.Info("starting sync operation")
	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	if result.ApplyErr != nil {
		logger.Warn("some mods could not be updated, they will be retried on the next run",
			"failed", len(result.Failed))
	}

	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := remote.NewHTTPClient(remote.Options{
		Retries: cfg.HTTP.Retries,
		Timeout: cfg.HTTP.Timeout,
	}, logger)

	engine := sync.NewEngine(cfg, afero.NewOsFs(), client, logger, true)
	plan, err := engine.Plan(ctx)
	if err != nil {
		return fmt.Errorf("failed to build sync plan: %w", err)
	}

	return report.Write(cmd.OutOrStdout(), plan, format)
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	path, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	cfg.URL = initURL
	if cfg.URL == "" && !assumeYes {
		if cfg.URL, err = promptURL("Remote catalog URL"); err != nil {
			return err
		}
	}

	if err := config.WriteDefault(path, cfg); err != nil {
		return err
	}
	logger.Info("wrote config file", "path", path)

	dir := filepath.Join(filepath.Dir(path), config.DefaultModsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create mods directory: %w", err)
	}

	if cfg.URL == "" {
		logger.Warn("no url configured, edit the config file before running sync", "path", path)
	}
	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// configPath returns --config or the default file next to the executable
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), config.DefaultFileName), nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	logger.Info("loading configuration", "path", path)

	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, createDefaultConfig(logger, path)
	case errors.Is(err, config.ErrMissingURL):
		return nil, fmt.Errorf("%w: set \"url\" in %s", err, path)
	case err != nil:
		return nil, err
	}

	if modsDir != "" {
		abs, err := filepath.Abs(modsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve mods directory: %w", err)
		}
		cfg.ModsDir = abs
	}

	logger.Debug("configuration loaded",
		"url", cfg.URL,
		"mods_dir", cfg.ModsDir,
		"force_update_log", cfg.ForceUpdateLog,
		"update_all", cfg.UpdateAll,
		"optional_mods", cfg.OptionalMods,
		"version_checking", cfg.VersionChecking())

	return cfg, nil
}

// createDefaultConfig offers to write a default config at path. It always
// returns an error since the written config has no url yet.
func createDefaultConfig(logger *slog.Logger, path string) error {
	ok, err := confirmAction(fmt.Sprintf("Config file %s not found. Create it", path))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("config file %s not found: %w", path, errDeclined)
	}

	if err := config.WriteDefault(path, config.Default()); err != nil {
		return err
	}
	logger.Info("created default config file", "path", path)

	return fmt.Errorf("%w: set \"url\" in %s and run again", config.ErrMissingURL, path)
}

// ensureModsDir offers to create a missing mods directory
func ensureModsDir(logger *slog.Logger, dir string) error {
	exists, err := inventory.Exists(afero.NewOsFs(), dir)
	if err != nil {
		return fmt.Errorf("failed to stat mods directory: %w", err)
	}
	if exists {
		return nil
	}

	ok, err := confirmAction(fmt.Sprintf("Mods directory %s does not exist. Create it", dir))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mods directory %s not found: %w", dir, errDeclined)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create mods directory: %w", err)
	}
	logger.Info("created mods directory", "dir", dir)
	return nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
