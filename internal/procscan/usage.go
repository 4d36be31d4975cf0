package procscan

import (
	"context"
	"errors"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/plc-datalink/rfc1006/internal/models"
)

// normalizedStatuses maps raw gopsutil status strings to a small display set.
var normalizedStatuses = map[string]string{
	"running":               "running",
	"sleeping":              "sleeping",
	"idle":                  "idle",
	"stopped":               "stopped",
	"zombie":                "zombie",
	"wait":                  "sleeping",
	"lock":                  "sleeping",
	"sleep":                 "sleeping",
	"disk-sleep":            "sleeping",
	"tracing-stop":          "stopped",
	"dead":                  "zombie",
	"wake-kill":             "sleeping",
	"waking":                "running",
	"parked":                "idle",
	"idle-interrupt":        "idle",
	"suspended":             "stopped",
	"uninterruptible-sleep": "sleeping",
}

// normalizeStatus maps a raw status to its display value. An empty status
// (common on Windows) is inferred from CPU activity.
func normalizeStatus(raw string, cpuPct float64) string {
	if raw != "" {
		key := strings.ToLower(strings.TrimSpace(raw))
		if mapped, ok := normalizedStatuses[key]; ok {
			return mapped
		}
		return key
	}
	if cpuPct > 0 {
		return "running"
	}
	return "idle"
}

// Usage reads the resource usage of pid. Individual metrics that cannot be
// read are left zero; only a missing process is an error (ErrProcessGone).
func Usage(ctx context.Context, pid int32) (models.ProcessUsage, error) {
	p, err := lookup(ctx, pid)
	if err != nil {
		return models.ProcessUsage{}, err
	}

	u := models.ProcessUsage{PID: pid}
	u.CPU, _ = p.CPUPercentWithContext(ctx)
	if mem, err := p.MemoryPercentWithContext(ctx); err == nil {
		u.Memory = float64(mem)
	}
	if info, err := p.MemoryInfoWithContext(ctx); err == nil && info != nil {
		u.RSS = info.RSS
	}
	u.StartedAt, _ = p.CreateTimeWithContext(ctx)

	raw := ""
	if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 {
		raw = status[0]
	} else if errors.Is(err, process.ErrorProcessNotRunning) {
		return models.ProcessUsage{}, ErrProcessGone
	}
	u.Status = normalizeStatus(raw, u.CPU)
	return u, nil
}
