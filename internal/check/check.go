// Package check holds the domain types shared by the storage, registry, and
// control layers: check definitions and the results their executions produce.
package check

import (
	"fmt"
	"net/url"
	"time"
)

// Kind selects how a check's target is probed.
type Kind string

const (
	// KindHTTP probes the target URL with a plain GET.
	KindHTTP Kind = "http"
	// KindScript evaluates a Lua script in a sandboxed interpreter.
	KindScript Kind = "script"
)

// Check is the persisted definition of a healthcheck. The ID is assigned by
// the store on creation and never changes afterwards.
type Check struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name,omitempty"`
	Kind     Kind          `json:"kind"`
	Target   string        `json:"target"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`
}

// Validate reports whether the definition is acceptable for creation.
// The ID is intentionally not inspected; the store assigns it.
func (c *Check) Validate() error {
	switch c.Kind {
	case KindHTTP:
		u, err := url.Parse(c.Target)
		if err != nil {
			return fmt.Errorf("invalid target URL %q: %w", c.Target, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("target URL %q must use http or https", c.Target)
		}
	case KindScript:
		if c.Target == "" {
			return fmt.Errorf("script checks require a script path as target")
		}
	default:
		return fmt.Errorf("unknown check kind %q (must be http or script)", c.Kind)
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", c.Interval)
	}
	return nil
}
