package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/safepath"
	"github.com/jkaninda/ngao/internal/sandbox"
	"github.com/jkaninda/ngao/internal/server"
	"github.com/jkaninda/ngao/internal/task"
)

var (
	serveConfigPath string
	serveSafeRoot   string
	serveDebug      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP requests on stdin/stdout",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `ngao -r path` and `ngao serve -r path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file (YAML or JSON)")
		cmd.Flags().StringVarP(&serveSafeRoot, "saferoot", "r", "", "directory commands and file tools are confined to")
		cmd.Flags().BoolVarP(&serveDebug, "debug", "d", false, "enable debug logging")
	}
}

// runServe wires the components together and serves MCP on stdio until the
// client closes the connection or the process is signaled.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveSafeRoot != "" {
		cfg.SafeRoot = serveSafeRoot
	}
	if serveDebug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	// stdout carries the MCP transport; all logging goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	resolver, err := safepath.NewResolver(cfg.SafeRoot)
	if err != nil {
		return fmt.Errorf("initializing safe root: %w", err)
	}

	runner := sandbox.NewRunner(resolver.Root(), logger)
	store := task.NewStore(cfg.SnapshotPath(), logger)
	tasks := task.NewManager(runner, store, cfg.BackgroundTimeout(), logger)
	tasks.StartJanitor()
	defer tasks.Stop()

	srv := server.New(cfg, resolver, runner, tasks, logger, version)
	return srv.ServeStdio()
}

// loadConfig resolves the config source: explicit --config flag takes
// priority over the NGAO_CONFIG env var; with neither, defaults plus env
// overrides apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := serveConfigPath
	if !cmd.Flags().Changed("config") {
		path = goutils.Env("NGAO_CONFIG", path)
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
