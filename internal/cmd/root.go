package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/session"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - nREPL client for the command line",
	Long: `Parley evaluates code on running nREPL servers. It discovers servers on
this machine, keeps one session per server so definitions survive between
invocations, and streams evaluation output as it arrives.

Evaluate an expression (the server is discovered automatically):
  parley eval '(+ 1 2)'

See what is listening:
  parley discover

Manage persisted sessions:
  parley sessions
  parley reset --port 7888`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.parley/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// initLogging routes diagnostics to stderr so stdout stays clean for
// evaluation output.
func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the session store the configuration selects. The returned
// closer releases the backend.
func openStore(cfg *config.Config) (*session.Store, func(), error) {
	path, err := cfg.SessionsPath()
	if err != nil {
		return nil, nil, err
	}

	var backend session.Backend
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		backend, err = session.NewSQLiteBackend(path, cfg.Scope)
	case config.BackendFile:
		backend, err = session.NewFileBackend(path)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, nil, err
	}

	return session.NewStore(backend), func() { _ = backend.Close() }, nil
}
