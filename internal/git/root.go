// Package git locates repository roots for project correlation.
package git

import (
	"os/exec"
	"strings"
)

// FindRoot returns the root of the repository containing dir, or an empty
// string when dir is not inside one. The reported path is physical, the way
// git resolves it.
func FindRoot(dir string) string {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
