// Package health reports a container-aware resource snapshot of the client
// process, for operator dashboards or liveness probes. It is purely
// observational: nothing in the core's control flow consults it.
package health

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	Timestamp       time.Time
	// ProcessCPUPct is the host-wide CPU utilisation over the sample
	// interval; this process's own CPU share is not measured.
	ProcessCPUPct   float64
	HostMemUsedPct  float64
	CgroupMemLimit  int64 // bytes; 0 when no cgroup limit is in effect
	ActiveGoroutine int
}

// memoryLimit returns the container memory limit in bytes from the cgroup
// filesystem, trying cgroup v2 then falling back to v1. Returns 0 when no
// limit is detected (bare metal, VM, unconstrained container).
func memoryLimit() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			if v, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
				return v
			}
		}
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return v
		}
	}

	return 0
}

// Collector periodically samples process/host resource usage.
type Collector struct {
	goroutineCount func() int
}

// NewCollector returns a Collector. goroutineCount lets callers plug in
// runtime.NumGoroutine without this package importing runtime directly
// for the sake of it; a nil func disables that field.
func NewCollector(goroutineCount func() int) *Collector {
	return &Collector{goroutineCount: goroutineCount}
}

// Sample takes a single resource snapshot. CPU sampling blocks briefly
// (interval below) to compute a percentage rather than a cumulative total.
func (c *Collector) Sample(interval time.Duration) Snapshot {
	snap := Snapshot{Timestamp: time.Now(), CgroupMemLimit: memoryLimit()}

	if pcts, err := cpu.Percent(interval, false); err == nil && len(pcts) == 1 {
		snap.ProcessCPUPct = pcts[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.HostMemUsedPct = vm.UsedPercent
	}

	if c.goroutineCount != nil {
		snap.ActiveGoroutine = c.goroutineCount()
	}

	return snap
}
