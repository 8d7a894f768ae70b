package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/parley-dev/parley/internal/session"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var sessionsOutput string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions",
	Long:  `List the persisted sessions, one per server this machine has evaluated against.`,
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "table", "output format: table, json, or yaml")

	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	switch sessionsOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		data, err := yaml.Marshal(records)
		if err != nil {
			return fmt.Errorf("failed to render yaml: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	case "table":
		printRecords(records)
		return nil
	}
	return fmt.Errorf("unknown output format %q", sessionsOutput)
}

func printRecords(records []*session.Record) {
	if len(records) == 0 {
		fmt.Println("No sessions.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TARGET\tENV\tSESSION\tCREATED")
	_, _ = fmt.Fprintln(w, "------\t---\t-------\t-------")

	for _, r := range records {
		created := r.CreatedAt.Format("2006-01-02 15:04:05")
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Target(), r.EnvType, r.SessionID, created)
	}

	_ = w.Flush()
}
