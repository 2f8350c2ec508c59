package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherboot/kernel/hal/e820"
	"gopherboot/kernel/mem/pmm/allocator"
)

const simMap = `
regions:
  - {base: 0x0, size: 0x9fc00, type: available}
  - {base: 0x9fc00, size: 1K, type: reserved}
  - {base: 0x100000, size: 4M, type: available}
  - {base: 0x200000, size: 64K, type: acpi}
`

// TestRunSim is the only test that initialises the shared allocator.
func TestRunSim(t *testing.T) {
	image := make([]byte, 10000)
	for i := range image {
		image[i] = byte(i*7 + 3)
	}
	imagePath := filepath.Join(t.TempDir(), "kernel.img")
	require.NoError(t, os.WriteFile(imagePath, image, 0o644))

	var buf bytes.Buffer
	err := runSim(context.Background(), &buf, &simOptions{
		source:     mapSourceFlags{mapFile: writeTempMap(t, simMap)},
		stages:     4,
		ops:        500,
		seed:       7,
		maxBlock:   16 * 1024,
		arenaLimit: 1 << 30,
		image:      imagePath,
		metrics:    true,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Loaded "+imagePath+" at 0x210000")
	assert.Contains(t, out, "Simulation summary")
	assert.Contains(t, out, `gopherboot_sim_operations_total{op="alloc",result="ok",stage="0"}`)
	assert.Contains(t, out, "# TYPE gopherboot_allocator_free_bytes gauge")
	assert.Contains(t, out, "gopherboot_allocator_free_ranges 2")

	free, ranges := allocator.FreeMemory()
	assert.Equal(t, uint64(4*1024*1024-64*1024), uint64(free))
	assert.Equal(t, 2, ranges)
}

func TestRunSimErrors(t *testing.T) {
	mapFile := writeTempMap(t, simMap)

	specs := map[string]simOptions{
		"no stages":       {stages: 0, ops: 1, maxBlock: 1, arenaLimit: 1 << 30},
		"too many stages": {stages: 256, ops: 1, maxBlock: 1, arenaLimit: 1 << 30},
		"zero max block":  {stages: 1, ops: 1, maxBlock: 0, arenaLimit: 1 << 30},
		"arena too small": {stages: 1, ops: 1, maxBlock: 1, arenaLimit: 0x100000},
	}

	for descr, opts := range specs {
		opts.source = mapSourceFlags{mapFile: mapFile}
		err := runSim(context.Background(), &bytes.Buffer{}, &opts)
		assert.Error(t, err, descr)
	}
}

func TestPhysicalTop(t *testing.T) {
	entries := e820.Entries{
		{PhysAddress: 0, Length: 0x9fc00, Type: e820.MemAvailable},
		{PhysAddress: 0x100000, Length: 0x7ee0000, Type: e820.MemAvailable},
		{PhysAddress: 0xfffc0000, Length: 0x40000, Type: e820.MemReserved},
	}

	assert.Equal(t, uint64(0x7fe0000), physicalTop(entries))
	assert.Zero(t, physicalTop(nil))
}

func TestBlockPattern(t *testing.T) {
	for stage := 0; stage < 255; stage++ {
		for seq := 0; seq < 1024; seq++ {
			require.NotZero(t, blockPattern(stage, seq))
		}
	}
}

func TestArenaVerifyBlock(t *testing.T) {
	phys, err := newArena(0x10000)
	require.NoError(t, err)
	defer phys.close()

	b := block{addr: 0x1000, size: 0x100, pattern: 0xaa}
	for i := range phys.bytes(b.addr, b.size) {
		phys.mem[int(b.addr)+i] = b.pattern
	}
	require.NoError(t, verifyBlock(phys, 0, b))

	phys.mem[0x1080] = 0x55
	assert.Error(t, verifyBlock(phys, 0, b))

	_, err = newArena(0)
	assert.Error(t, err)
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestSimMetrics(t *testing.T) {
	m := newSimMetrics()
	m.operations.WithLabelValues("0", "alloc", "ok").Inc()
	m.operations.WithLabelValues("0", "alloc", "ok").Inc()
	m.operations.WithLabelValues("1", "free", "ok").Inc()
	m.bytes.WithLabelValues("0").Add(4096)

	families, err := m.registry.Gather()
	require.NoError(t, err)

	ops := findFamily(families, "gopherboot_sim_operations_total")
	require.NotNil(t, ops)
	assert.Equal(t, dto.MetricType_COUNTER, ops.GetType())
	require.Len(t, ops.GetMetric(), 2)

	var total float64
	for _, metric := range ops.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	assert.Equal(t, float64(3), total)

	allocated := findFamily(families, "gopherboot_sim_allocated_bytes_total")
	require.NotNil(t, allocated)
	assert.Equal(t, float64(4096), allocated.GetMetric()[0].GetCounter().GetValue())

	for _, name := range []string{"gopherboot_allocator_free_bytes", "gopherboot_allocator_free_ranges"} {
		mf := findFamily(families, name)
		require.NotNil(t, mf, name)
		assert.Equal(t, dto.MetricType_GAUGE, mf.GetType())
	}

	var buf bytes.Buffer
	require.NoError(t, m.write(&buf))
	assert.Contains(t, buf.String(), "# TYPE gopherboot_sim_operations_total counter")
	assert.Contains(t, buf.String(), `gopherboot_sim_allocated_bytes_total{stage="0"} 4096`)
}
