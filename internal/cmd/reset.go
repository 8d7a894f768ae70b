package cmd

import (
	"errors"
	"fmt"

	"github.com/parley-dev/parley/internal/nrepl"
	"github.com/spf13/cobra"
)

var (
	resetHost string
	resetPort int
	resetAll  bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard persisted sessions",
	Long: `Discard the persisted session for a server, so the next eval starts a
fresh one. State tied to the old session (defined names, loaded namespaces)
is abandoned on the server.

Examples:
  parley reset --port 7888
  parley reset --all`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetHost, "host", "", "server host (default from config)")
	resetCmd.Flags().IntVarP(&resetPort, "port", "p", 0, "server port")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "discard every persisted session")

	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetPort == 0 && !resetAll {
		return errors.New("pass --port or --all")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if resetHost == "" {
		resetHost = cfg.Host
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if resetAll {
		records, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No sessions to reset.")
			return nil
		}
		for _, r := range records {
			if err := store.Reset(r.Target()); err != nil {
				fmt.Printf("Warning: failed to reset %s: %v\n", r.Target(), err)
				continue
			}
			fmt.Printf("Reset session for %s.\n", r.Target())
		}
		return nil
	}

	target := nrepl.Target{Host: resetHost, Port: resetPort}
	if err := store.Reset(target); err != nil {
		return fmt.Errorf("failed to reset session for %s: %w", target, err)
	}
	fmt.Printf("Reset session for %s.\n", target)
	return nil
}
