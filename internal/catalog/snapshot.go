package catalog

import (
	"context"
	"slices"

	"github.com/plc-datalink/rfc1006/internal/models"
)

// Snapshot is the combined catalog view at one point in time.
type Snapshot struct {
	Configured []string               `json:"configured"`
	Logged     []string               `json:"standby"`
	Active     []models.ProcessHandle `json:"active"`

	// Orphaned machines have a running collector but no configuration file.
	Orphaned []string `json:"orphaned"`
	// Idle machines are configured but have no running collector.
	Idle []string `json:"idle"`
}

// Snapshot reads all three views and reports where they diverge.
func (c *Catalog) Snapshot(ctx context.Context) (Snapshot, error) {
	configured, err := c.Configured()
	if err != nil {
		return Snapshot{}, err
	}
	logged, err := c.Logged()
	if err != nil {
		return Snapshot{}, err
	}
	active, err := c.Active(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	running := make([]string, 0, len(active))
	for _, h := range active {
		running = append(running, h.MachineName)
	}

	return Snapshot{
		Configured: configured,
		Logged:     logged,
		Active:     active,
		Orphaned:   difference(running, configured),
		Idle:       difference(configured, running),
	}, nil
}

// difference returns the sorted, de-duplicated members of a missing from b.
func difference(a, b []string) []string {
	out := []string{}
	for _, s := range a {
		if !slices.Contains(b, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
