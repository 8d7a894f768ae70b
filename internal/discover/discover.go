// Package discover finds evaluation servers on the local machine without
// the caller knowing a port: it merges a conventional port-hint file with a
// scan of listening sockets owned by candidate runtime processes, then
// probes, classifies and project-correlates every candidate.
package discover

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/struCoder/pidusage"
	"golang.org/x/sync/errgroup"

	"github.com/parley-dev/parley/internal/git"
	"github.com/parley-dev/parley/internal/nrepl"
)

// PortFileName is the conventional file a server writes its port to.
const PortFileName = ".nrepl-port"

// SourcePortFile marks a candidate that came from the port-hint file.
const SourcePortFile = "port-file"

// DiscoveredServer is the classification of one candidate. It is recomputed
// on every run and never persisted.
type DiscoveredServer struct {
	Host       string        `json:"host" yaml:"host"`
	Port       int           `json:"port" yaml:"port"`
	Source     string        `json:"source" yaml:"source"`
	Valid      bool          `json:"valid" yaml:"valid"`
	EnvType    nrepl.EnvType `json:"env_type,omitempty" yaml:"env_type,omitempty"`
	ProjectDir string        `json:"project_dir,omitempty" yaml:"project_dir,omitempty"`
	MatchesCWD bool          `json:"matches_cwd" yaml:"matches_cwd"`
	PID        int           `json:"pid,omitempty" yaml:"pid,omitempty"`
	MemoryMB   float64       `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
}

// Target returns the host and port as a dialable target.
func (d DiscoveredServer) Target() nrepl.Target {
	return nrepl.Target{Host: d.Host, Port: d.Port}
}

// Discoverer probes candidate ports and classifies what answers.
type Discoverer struct {
	host    string
	names   []string
	workDir string
	log     *slog.Logger

	// ConnectTimeout bounds each candidate probe's dial.
	ConnectTimeout time.Duration
}

// New returns a discoverer probing candidates on host. workDir anchors the
// port-file lookup and the project correlation; names filters the socket
// scan by owning process, with DefaultProcessNames when empty.
func New(host, workDir string, names []string) *Discoverer {
	if len(names) == 0 {
		names = DefaultProcessNames
	}
	return &Discoverer{
		host:           host,
		names:          names,
		workDir:        workDir,
		log:            slog.With("component", "discover"),
		ConnectTimeout: 2 * time.Second,
	}
}

// Discover enumerates candidates and probes them in parallel, returning the
// classifications ordered by port. A candidate failing validation or
// classification never aborts the others.
func (d *Discoverer) Discover() []DiscoveredServer {
	return d.probeAll(d.candidates())
}

func (d *Discoverer) probeAll(candidates []candidate) []DiscoveredServer {
	servers := make([]DiscoveredServer, len(candidates))

	var g errgroup.Group
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			servers[i] = d.probe(c)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(servers, func(i, j int) bool { return servers[i].Port < servers[j].Port })
	return servers
}

// candidates merges the port-file hint with the socket scan. A scan failure
// only costs the scan; the hint file still yields a candidate.
func (d *Discoverer) candidates() []candidate {
	var all []candidate
	if port, ok := d.portFileHint(); ok {
		all = append(all, candidate{port: port, source: SourcePortFile})
	}

	scanned, err := scanListeners(d.names)
	if err != nil {
		d.log.Debug("socket scan unavailable", "error", err)
	}
	all = append(all, scanned...)

	return mergeCandidates(all)
}

// mergeCandidates deduplicates by port. The first occurrence keeps its
// source label; later duplicates only back-fill a missing pid, so a
// port-file candidate still gets process stats when the scan saw it too.
func mergeCandidates(all []candidate) []candidate {
	byPort := make(map[int]int, len(all))
	out := make([]candidate, 0, len(all))
	for _, c := range all {
		if i, ok := byPort[c.port]; ok {
			if out[i].pid == 0 {
				out[i].pid = c.pid
			}
			continue
		}
		byPort[c.port] = len(out)
		out = append(out, c)
	}
	return out
}

// portFileHint reads the port file from the working directory, falling back
// to the repository root when the caller sits in a subdirectory.
func (d *Discoverer) portFileHint() (int, bool) {
	dirs := []string{d.workDir}
	if root := git.FindRoot(d.workDir); root != "" && root != d.workDir {
		dirs = append(dirs, root)
	}
	for _, dir := range dirs {
		data, err := os.ReadFile(filepath.Join(dir, PortFileName))
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || port <= 0 || port > 65535 {
			d.log.Debug("ignoring malformed port file", "dir", dir)
			continue
		}
		return port, true
	}
	return 0, false
}

// probe validates and classifies one candidate over its own short-lived
// connection.
func (d *Discoverer) probe(c candidate) DiscoveredServer {
	srv := DiscoveredServer{
		Host:   d.host,
		Port:   c.port,
		Source: c.source,
		PID:    c.pid,
	}

	conn, err := nrepl.Dial(d.host, c.port, d.ConnectTimeout)
	if err != nil {
		d.log.Debug("candidate unreachable", "port", c.port, "error", err)
		return srv
	}
	defer conn.Close()

	// Any well-formed answer validates the port, even zero sessions.
	if _, err := conn.LsSessions(); err != nil {
		d.log.Debug("candidate is not an evaluation server", "port", c.port, "error", err)
		return srv
	}
	srv.Valid = true

	env, err := nrepl.DetectEnv(conn)
	if err != nil {
		env = nrepl.EnvUnknown
	}
	srv.EnvType = env

	if dir, ok := d.serverWorkDir(conn, env); ok {
		srv.ProjectDir = dir
		srv.MatchesCWD = d.matchesWorkDir(dir)
	}

	if c.pid > 0 {
		if stat, err := pidusage.GetStat(c.pid); err == nil {
			srv.MemoryMB = stat.Memory / 1024 / 1024
		}
	}

	d.log.Debug("classified candidate",
		"port", c.port, "env", string(srv.EnvType), "matches_cwd", srv.MatchesCWD)
	return srv
}

// cwdExprs maps each runtime flavor to the expression reporting its working
// directory. Flavors without an entry skip project correlation.
var cwdExprs = map[nrepl.EnvType]string{
	nrepl.EnvClj:      `(System/getProperty "user.dir")`,
	nrepl.EnvBabashka: `(System/getProperty "user.dir")`,
	nrepl.EnvShadow:   `(System/getProperty "user.dir")`,
	nrepl.EnvBasilisp: `(do (import os) (os/getcwd))`,
}

// serverWorkDir asks the server for its working directory using the
// expression suited to its runtime flavor.
func (d *Discoverer) serverWorkDir(conn *nrepl.Conn, env nrepl.EnvType) (string, bool) {
	expr, ok := cwdExprs[env]
	if !ok {
		return "", false
	}
	value, err := conn.EvalValue(expr)
	if err != nil || value == "" || value == "nil" {
		return "", false
	}
	return stripQuotes(value), true
}

// stripQuotes removes the surrounding double quotes a server prints around
// a string value.
func stripQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// matchesWorkDir reports whether the server's directory is the caller's
// working directory or the root of the repository containing it.
func (d *Discoverer) matchesWorkDir(dir string) bool {
	if dir == "" || d.workDir == "" {
		return false
	}
	if samePath(dir, d.workDir) {
		return true
	}
	root := git.FindRoot(d.workDir)
	return root != "" && samePath(dir, root)
}

// samePath compares directories after cleaning and resolving symlinks, so a
// directory reported through a symlinked temp or home path still matches.
func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, err1 := filepath.EvalSymlinks(a)
	rb, err2 := filepath.EvalSymlinks(b)
	return err1 == nil && err2 == nil && ra == rb
}
