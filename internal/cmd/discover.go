package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/parley-dev/parley/internal/discover"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	discoverOutput string
	discoverAll    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find nREPL servers on this machine",
	Long: `Find running nREPL servers.

Candidates come from the .nrepl-port file in the current directory (or the
git root) and from listening TCP ports owned by runtime-looking processes.
Each candidate is probed and classified. Candidates that did not answer the
protocol are hidden unless --all is set.

Examples:
  parley discover
  parley discover -o json
  parley discover --all`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "table", "output format: table, json, or yaml")
	discoverCmd.Flags().BoolVar(&discoverAll, "all", false, "include candidates that did not answer the protocol")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	d := discover.New(cfg.Host, cwd, cfg.Discover.Names)
	d.ConnectTimeout = cfg.ConnectTimeout
	servers := d.Discover()

	if !discoverAll {
		valid := servers[:0]
		for _, s := range servers {
			if s.Valid {
				valid = append(valid, s)
			}
		}
		servers = valid
	}

	switch discoverOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(servers)
	case "yaml":
		data, err := yaml.Marshal(servers)
		if err != nil {
			return fmt.Errorf("failed to render yaml: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	case "table":
		printServers(servers)
		return nil
	}
	return fmt.Errorf("unknown output format %q", discoverOutput)
}

func printServers(servers []discover.DiscoveredServer) {
	if len(servers) == 0 {
		fmt.Println("No servers found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PORT\tENV\tSOURCE\tPROJECT\tCWD\tPID\tMEM")
	_, _ = fmt.Fprintln(w, "----\t---\t------\t-------\t---\t---\t---")

	for _, s := range servers {
		env := string(s.EnvType)
		if !s.Valid {
			env = "invalid"
		}
		project := s.ProjectDir
		if project == "" {
			project = "-"
		}
		cwdMark := ""
		if s.MatchesCWD {
			cwdMark = "*"
		}
		pid, mem := "-", "-"
		if s.PID != 0 {
			pid = strconv.Itoa(s.PID)
		}
		if s.MemoryMB > 0 {
			mem = fmt.Sprintf("%.0fMB", s.MemoryMB)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Port, env, s.Source, project, cwdMark, pid, mem)
	}

	_ = w.Flush()
}
