package nrepl

import (
	"fmt"
)

// Target identifies one running evaluation server. Targets are compared by
// exact (host, port) equality only and are never merged or deduplicated
// otherwise; each carries independent session state and classification.
type Target struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}
