package discover

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultProcessNames are the process names whose listening ports qualify
// as candidate evaluation servers.
var DefaultProcessNames = []string{
	"java", "clojure", "clj", "bb", "nbb", "node", "python", "python3", "basilisp",
}

// candidate is one listening port worth probing.
type candidate struct {
	port    int
	pid     int
	process string
	source  string
}

// scanListeners enumerates listening TCP ports owned by candidate runtime
// processes, preferring lsof and falling back to ss.
func scanListeners(names []string) ([]candidate, error) {
	if out, err := exec.Command("lsof", "-iTCP", "-sTCP:LISTEN", "-P", "-n").Output(); err == nil {
		return parseLsof(string(out), names), nil
	}
	out, err := exec.Command("ss", "-tlnp").Output()
	if err != nil {
		return nil, fmt.Errorf("no usable socket inspection tool (tried lsof, ss): %w", err)
	}
	return parseSS(string(out), names), nil
}

// parseLsof extracts candidates from `lsof -iTCP -sTCP:LISTEN -P -n` output.
// Lines look like:
//
//	java    41234  jan   45u  IPv6 0xabc  0t0  TCP *:7888 (LISTEN)
func parseLsof(out string, names []string) []candidate {
	var found []candidate
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		process := fields[0]
		if !matchesName(process, names) {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		port, ok := portOf(fields[8])
		if !ok {
			continue
		}
		found = append(found, candidate{port: port, pid: pid, process: process, source: process})
	}
	return found
}

// parseSS extracts candidates from `ss -tlnp` output. Lines look like:
//
//	LISTEN 0 4096 127.0.0.1:7888 0.0.0.0:* users:(("java",pid=41234,fd=45))
func parseSS(out string, names []string) []candidate {
	var found []candidate
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 || fields[0] != "LISTEN" {
			continue
		}
		process, pid, ok := parseSSProcess(fields[5])
		if !ok || !matchesName(process, names) {
			continue
		}
		port, ok := portOf(fields[3])
		if !ok {
			continue
		}
		found = append(found, candidate{port: port, pid: pid, process: process, source: process})
	}
	return found
}

// parseSSProcess pulls the first process name and pid out of a ss process
// column like `users:(("java",pid=41234,fd=45))`.
func parseSSProcess(col string) (string, int, bool) {
	start := strings.Index(col, `(("`)
	if start < 0 {
		return "", 0, false
	}
	rest := col[start+3:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", 0, false
	}
	name := rest[:end]

	pid := 0
	if i := strings.Index(rest, "pid="); i >= 0 {
		pidStr := rest[i+4:]
		if j := strings.IndexAny(pidStr, ",)"); j >= 0 {
			pidStr = pidStr[:j]
		}
		pid, _ = strconv.Atoi(pidStr)
	}
	return name, pid, true
}

// portOf parses the port out of a listen address like "*:7888",
// "127.0.0.1:7888" or "[::1]:7888".
func portOf(addr string) (int, bool) {
	i := strings.LastIndex(addr, ":")
	if i < 0 || i == len(addr)-1 {
		return 0, false
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

func matchesName(process string, names []string) bool {
	p := strings.ToLower(process)
	for _, n := range names {
		if p == n {
			return true
		}
	}
	return false
}
