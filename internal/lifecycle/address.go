// Package lifecycle derives channel addresses from process identity and
// starts worker processes.
package lifecycle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Addresses are the three publish endpoints a process binds.
type Addresses struct {
	Parent string // replies toward the parent
	Left   string // commands toward the left child
	Right  string // commands toward the right child
}

// For derives the canonical addresses of the process pid in namespace.
func For(namespace string, pid int) Addresses {
	return Addresses{
		Parent: fmt.Sprintf("%s:parent:%d", namespace, pid),
		Left:   fmt.Sprintf("%s:left:%d", namespace, pid),
		Right:  fmt.Sprintf("%s:right:%d", namespace, pid),
	}
}

// NewNamespace returns a namespace unique to one orchestrator run, so that
// trees sharing a broker never see each other's traffic.
func NewNamespace(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Parse splits an address produced by For back into its parts.
func Parse(address string) (namespace, side string, pid int, err error) {
	i := strings.LastIndex(address, ":")
	if i <= 0 {
		return "", "", 0, fmt.Errorf("malformed address %q", address)
	}
	pid, err = strconv.Atoi(address[i+1:])
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed address %q: %w", address, err)
	}
	rest := address[:i]
	j := strings.LastIndex(rest, ":")
	if j <= 0 {
		return "", "", 0, fmt.Errorf("malformed address %q", address)
	}
	side = rest[j+1:]
	switch side {
	case "parent", "left", "right":
	default:
		return "", "", 0, fmt.Errorf("malformed address %q: unknown side %q", address, side)
	}
	return rest[:j], side, pid, nil
}

// NamespaceOf recovers the namespace a parent address lives in.
func NamespaceOf(address string) (string, error) {
	ns, _, _, err := Parse(address)
	return ns, err
}
