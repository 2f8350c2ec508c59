package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherboot/kernel/mem/rangeset"
)

const testMapFile = "testdata/qemu-128m.yaml"

func writeTempMap(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestRunShow(t *testing.T) {
	var buf bytes.Buffer

	err := runShow(&buf, &showOptions{source: mapSourceFlags{mapFile: testMapFile}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Firmware memory map")
	assert.Contains(t, out, "0x0000000007fe0000")
	assert.Contains(t, out, "Free physical memory")
	assert.Contains(t, out, "0x0000000007fdffff")
	assert.Contains(t, out, "Usable memory: 129920K in 1 ranges\n")
}

func TestRunShowYAML(t *testing.T) {
	var buf bytes.Buffer

	err := runShow(&buf, &showOptions{source: mapSourceFlags{mapFile: testMapFile}, asYAML: true})
	require.NoError(t, err)

	entries, err := parseMapFile(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestRunShowOverflowingRegion(t *testing.T) {
	mapFile := writeTempMap(t, `
regions:
  - {base: 0xfffffffffffff000, size: 0x2000, type: available}
`)

	err := runShow(&bytes.Buffer{}, &showOptions{source: mapSourceFlags{mapFile: mapFile}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[allocator] fatal error")
}

func TestRunAlloc(t *testing.T) {
	var buf bytes.Buffer

	err := runAlloc(&buf, &allocOptions{
		source: mapSourceFlags{mapFile: testMapFile},
		size:   0x10000,
		align:  0x1000,
		hints:  []string{"0x1000000-0x1ffffff"},
		count:  2,
	})
	require.NoError(t, err)

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "0x0000000001000000 - 0x000000000100ffff", lines[0])
	assert.Equal(t, "0x0000000001010000 - 0x000000000101ffff", lines[1])
	assert.Contains(t, buf.String(), "in 2 ranges")
}

func TestRunAllocErrors(t *testing.T) {
	specs := map[string]allocOptions{
		"out of memory":  {size: 0x10000000, align: 1, count: 1},
		"bad alignment":  {size: 0x1000, align: 3, count: 1},
		"zero size":      {size: 0, align: 1, count: 1},
		"malformed hint": {size: 0x1000, align: 1, count: 1, hints: []string{"0x1000"}},
	}

	for descr, opts := range specs {
		opts.source = mapSourceFlags{mapFile: testMapFile}
		err := runAlloc(&bytes.Buffer{}, &opts)
		assert.Error(t, err, descr)
	}
}

func TestParseHint(t *testing.T) {
	r, err := parseHint("1M-0x1ffffff")
	require.NoError(t, err)
	assert.Equal(t, rangeset.Range{Start: 0x100000, End: 0x1ffffff}, r)

	for _, input := range []string{"", "0x1000", "0x2000-0x1000", "a-b", "0x1000-b"} {
		_, err := parseHint(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "0", humanSize(0))
	assert.Equal(t, "1023", humanSize(1023))
	assert.Equal(t, "1K", humanSize(1024))
	assert.Equal(t, "1025", humanSize(1025))
	assert.Equal(t, "127M", humanSize(0x7f00000))
	assert.Equal(t, "4G", humanSize(4<<30))
}

func TestRootCommand(t *testing.T) {
	var buf bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"show", "--map", testMapFile})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Usable memory")

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show"})
	assert.Error(t, cmd.Execute(), "a memory map source is required")
}
