package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProbe struct {
	res SystemResources
	err error
}

func (p fakeProbe) Probe(context.Context) (SystemResources, error) { return p.res, p.err }

func TestResourceOptimizer_OptimalWorkers(t *testing.T) {
	tests := []struct {
		name  string
		probe fakeProbe
		want  int
	}{
		{"large host capped at max", fakeProbe{res: SystemResources{CPUCores: 16, MemoryGB: 64}}, 10},
		{"two cores", fakeProbe{res: SystemResources{CPUCores: 2, MemoryGB: 16}}, 5},
		{"four cores", fakeProbe{res: SystemResources{CPUCores: 4, MemoryGB: 16}}, 8},
		{"medium memory", fakeProbe{res: SystemResources{CPUCores: 4, MemoryGB: 6}}, 6},
		{"small memory floors at min", fakeProbe{res: SystemResources{CPUCores: 4, MemoryGB: 2}}, 5},
		{"busy host", fakeProbe{res: SystemResources{CPUCores: 5, MemoryGB: 32, MemoryUsedPct: 90}}, 8},
		{"probe failure", fakeProbe{err: errors.New("no /proc")}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ro := NewResourceOptimizer(tt.probe, 5, 10, nullLogger())
			assert.Equal(t, tt.want, ro.OptimalWorkers(context.Background()))
		})
	}
}

func TestNewResourceOptimizer_Bounds(t *testing.T) {
	ro := NewResourceOptimizer(nil, 0, -1, nil)

	assert.Equal(t, 1, ro.minWorkers)
	assert.Equal(t, 1, ro.maxWorkers)
	assert.IsType(t, HostProbe{}, ro.probe)
}

func TestHostProbe(t *testing.T) {
	res, err := HostProbe{}.Probe(context.Background())
	if err != nil {
		t.Skipf("host memory not readable: %v", err)
	}
	assert.Greater(t, res.CPUCores, 0)
	assert.Greater(t, res.MemoryGB, 0.0)
}
