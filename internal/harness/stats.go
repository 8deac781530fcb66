package harness

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// RunnerStats is a point-in-time resource sample of a spawned runner.
type RunnerStats struct {
	PID        int32
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
}

// Stats samples the spawned runner's resource usage. It returns (nil, nil)
// for attached clients, which have no process to observe.
func (c *Client) Stats() (*RunnerStats, error) {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil, nil
	}

	p, err := process.NewProcess(int32(c.cmd.Process.Pid))
	if err != nil {
		return nil, fmt.Errorf("looking up runner process: %w", err)
	}

	stats := &RunnerStats{PID: p.Pid}

	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if threads, err := p.NumThreads(); err == nil {
		stats.NumThreads = threads
	}

	return stats, nil
}
