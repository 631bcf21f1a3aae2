// Package probe executes single check executions: a plain HTTP GET for http
// checks, or a sandboxed Lua script for script checks.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/hazz-dev/beacon/internal/check"
)

// Prober performs one execution of one check. A nil error means the check
// passed; msg carries a script's returned string on success and is empty for
// HTTP probes. On failure the error text becomes the recorded message.
type Prober interface {
	Probe(ctx context.Context) (msg string, err error)
}

// Factory builds Probers from check definitions.
type Factory struct {
	// ScriptDir is prepended to relative script targets.
	ScriptDir string
	// Client is shared by HTTP probers and the Lua http bridge. It carries
	// no timeout: a probe runs until it completes or its check is stopped.
	Client *http.Client
}

func NewFactory(scriptDir string) *Factory {
	return &Factory{
		ScriptDir: scriptDir,
		Client:    &http.Client{},
	}
}

// New returns a Prober for the given definition. Script sources are read once
// here; the sandbox still gets a fresh interpreter per execution.
func (f *Factory) New(c *check.Check) (Prober, error) {
	switch c.Kind {
	case check.KindHTTP:
		return newHTTPProber(c.Target, f.Client), nil
	case check.KindScript:
		return newScriptProber(f.scriptPath(c.Target), f.Client)
	default:
		return nil, fmt.Errorf("unknown check kind %q", c.Kind)
	}
}

func (f *Factory) scriptPath(target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(f.ScriptDir, target)
}
