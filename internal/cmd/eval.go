package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/discover"
	"github.com/parley-dev/parley/internal/eval"
	"github.com/parley-dev/parley/internal/nrepl"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	evalFile     string
	evalHost     string
	evalPort     int
	evalTimeout  time.Duration
	evalNoRepair bool
	evalFresh    bool
	evalJSON     bool
)

var evalCmd = &cobra.Command{
	Use:   "eval [code]",
	Short: "Evaluate code on an nREPL server",
	Long: `Evaluate code on a running nREPL server.

Code comes from the argument, from --file, or from stdin when the argument
is "-". Without --port the best discovered server is used, preferring one
whose project directory matches the current directory.

The session is created once per server and reused across invocations, so
definitions survive between calls. Output streams as it arrives; returned
values print last, one per line.

Examples:
  parley eval '(+ 1 2)'
  parley eval '(def answer 42)' && parley eval 'answer'
  parley eval --port 7888 '(println "hi")'
  echo '(* 6 7)' | parley eval -
  parley eval --file setup.clj --timeout 10m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalFile, "file", "f", "", "read code from a file")
	evalCmd.Flags().StringVar(&evalHost, "host", "", "server host (default from config)")
	evalCmd.Flags().IntVarP(&evalPort, "port", "p", 0, "server port (default: discover)")
	evalCmd.Flags().DurationVarP(&evalTimeout, "timeout", "t", 0, "evaluation deadline (e.g. 30s, 5m)")
	evalCmd.Flags().BoolVar(&evalNoRepair, "no-repair", false, "send code as-is, skipping delimiter repair")
	evalCmd.Flags().BoolVar(&evalFresh, "fresh", false, "discard the persisted session first")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print the full result as JSON")

	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	code, err := readCode(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if evalHost == "" {
		evalHost = cfg.Host
	}
	if evalTimeout == 0 {
		evalTimeout = cfg.EvalTimeout
	}

	target, err := resolveTarget(cfg)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if evalFresh {
		if err := store.Reset(target); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
	}

	conn, err := nrepl.Dial(target.Host, target.Port, cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Live output goes straight through; in JSON mode the result document
	// carries it instead.
	out, errOut := io.Writer(os.Stdout), io.Writer(os.Stderr)
	if evalJSON {
		out, errOut = io.Discard, io.Discard
	}

	engine := eval.New(conn, store, repairer(cfg), out, errOut)
	res, runErr := engine.Run(target, code, evalTimeout)

	// Even a failed run carries whatever arrived before the failure.
	if res != nil {
		if err := printResult(os.Stdout, os.Stderr, res); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	switch {
	case res.TimedOut:
		return &ExitError{Code: ExitTimeout, Err: fmt.Errorf("evaluation timed out after %s", evalTimeout)}
	case res.EvalError:
		return &ExitError{Code: ExitEvalError, Err: errors.New("evaluation returned an error value")}
	}
	return nil
}

// readCode resolves the code to evaluate from --file, stdin ("-"), or the
// positional argument.
func readCode(args []string) (string, error) {
	if evalFile != "" {
		data, err := os.ReadFile(evalFile)
		if err != nil {
			return "", fmt.Errorf("failed to read code file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 0 {
		return "", errors.New("no code given (pass an argument, --file, or - for stdin)")
	}
	if args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	return args[0], nil
}

// resolveTarget picks the server to talk to: the explicit --port, or the
// best discovered candidate.
func resolveTarget(cfg *config.Config) (nrepl.Target, error) {
	if evalPort != 0 {
		return nrepl.Target{Host: evalHost, Port: evalPort}, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nrepl.Target{}, fmt.Errorf("failed to get current directory: %w", err)
	}

	d := discover.New(evalHost, cwd, cfg.Discover.Names)
	d.ConnectTimeout = cfg.ConnectTimeout

	var fallback *discover.DiscoveredServer
	servers := d.Discover()
	for i := range servers {
		s := servers[i]
		if !s.Valid {
			continue
		}
		if s.MatchesCWD {
			slog.Debug("using discovered server", "port", s.Port, "env", s.EnvType, "project", s.ProjectDir)
			return s.Target(), nil
		}
		if fallback == nil {
			fallback = &servers[i]
		}
	}
	if fallback != nil {
		slog.Debug("using discovered server", "port", fallback.Port, "env", fallback.EnvType)
		return fallback.Target(), nil
	}

	return nrepl.Target{}, &ExitError{
		Code: ExitConnect,
		Err:  errors.New("no nREPL server found (start one, or pass --port)"),
	}
}

// repairer picks the delimiter-repair step for this invocation.
func repairer(cfg *config.Config) eval.Repairer {
	if evalNoRepair || len(cfg.Repair.Command) == 0 {
		return eval.NopRepairer{}
	}
	return &eval.CommandRepairer{Argv: cfg.Repair.Command, Timeout: cfg.Repair.Timeout}
}

func printResult(out, errOut io.Writer, res *eval.Result) error {
	// The warning goes to stderr in every output mode; the JSON document
	// additionally carries the flag as data.
	if res.Unconfirmed {
		fmt.Fprintln(errOut, "Warning: interrupt not confirmed; the evaluation may still be running on the server.")
	}

	if evalJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	// On a terminal, prefix each value with its namespace the way a REPL
	// prompt would; keep plain values for pipes.
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	for _, v := range res.Values {
		if tty && v.NS != "" {
			fmt.Fprintf(out, "%s=> %s\n", v.NS, v.Value)
		} else {
			fmt.Fprintln(out, v.Value)
		}
	}
	return nil
}
