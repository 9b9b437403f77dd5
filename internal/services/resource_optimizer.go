package services

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// SystemResources is a point-in-time view of the host.
type SystemResources struct {
	CPUCores      int
	MemoryGB      float64
	MemoryUsedPct float64
}

// SystemProbe reads host resources.
type SystemProbe interface {
	Probe(ctx context.Context) (SystemResources, error)
}

// HostProbe reads resources through gopsutil.
type HostProbe struct{}

// Probe implements SystemProbe.
func (HostProbe) Probe(ctx context.Context) (SystemResources, error) {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemResources{CPUCores: cores}, err
	}
	return SystemResources{
		CPUCores:      cores,
		MemoryGB:      float64(vm.Total) / (1024 * 1024 * 1024),
		MemoryUsedPct: vm.UsedPercent,
	}, nil
}

// ResourceOptimizer sizes the enrichment worker pool from host resources.
type ResourceOptimizer struct {
	probe      SystemProbe
	minWorkers int
	maxWorkers int
	logger     *logrus.Logger
}

// NewResourceOptimizer clamps its answers to [minWorkers, maxWorkers].
func NewResourceOptimizer(probe SystemProbe, minWorkers, maxWorkers int, logger *logrus.Logger) *ResourceOptimizer {
	if probe == nil {
		probe = HostProbe{}
	}
	if minWorkers <= 0 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ResourceOptimizer{probe: probe, minWorkers: minWorkers, maxWorkers: maxWorkers, logger: logger}
}

// OptimalWorkers starts from two workers per core and scales down on small
// or busy hosts. A failed probe yields minWorkers.
func (ro *ResourceOptimizer) OptimalWorkers(ctx context.Context) int {
	res, err := ro.probe.Probe(ctx)
	if err != nil {
		ro.logger.WithError(err).Warn("Could not read system resources, using minimum workers")
		return ro.minWorkers
	}

	workers := float64(res.CPUCores * 2)
	switch {
	case res.MemoryGB > 0 && res.MemoryGB < 4:
		workers *= 0.5
	case res.MemoryGB > 0 && res.MemoryGB < 8:
		workers *= 0.75
	}
	if res.MemoryUsedPct > 85 {
		workers *= 0.8
	}

	n := int(workers)
	if n < ro.minWorkers {
		n = ro.minWorkers
	}
	if n > ro.maxWorkers {
		n = ro.maxWorkers
	}

	ro.logger.WithFields(logrus.Fields{
		"cpu_cores":   res.CPUCores,
		"memory_gb":   res.MemoryGB,
		"memory_used": res.MemoryUsedPct,
		"workers":     n,
	}).Debug("Calculated enrichment concurrency")
	return n
}
