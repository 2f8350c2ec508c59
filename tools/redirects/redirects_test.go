package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files relative to a fresh temp dir and returns the dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestModulePath(t *testing.T) {
	root := writeTree(t, map[string]string{"go.mod": "module example.com/boot\n\ngo 1.25\n"})

	path, err := modulePath(root)
	require.NoError(t, err)
	assert.Equal(t, "example.com/boot", path)

	_, err = modulePath(t.TempDir())
	assert.ErrorContains(t, err, "reading module file")

	root = writeTree(t, map[string]string{"go.mod": "go 1.25\n"})
	_, err = modulePath(root)
	assert.ErrorContains(t, err, "missing module directive")
}

func TestFindRedirects(t *testing.T) {
	root := writeTree(t, map[string]string{
		"go.mod": "module example.com/boot\n",
		"kernel/kfmt/panic.go": `package kfmt

//go:redirect-from runtime.gopanic
func Panic(e interface{}) {}

// Helper has a doc comment but no redirect.
func Helper() {}
`,
		"kernel/kfmt/panic_test.go": `package kfmt

//go:redirect-from runtime.ignored
func testOnly() {}
`,
		"kernel/mem/alloc.go": `package mem

//go:redirect-from runtime.sysAlloc
func sysAlloc() {}
`,
		"tools/other.go": `package tools

//go:redirect-from runtime.outside
func outside() {}
`,
	})

	redirects, err := findRedirects(root)
	require.NoError(t, err)
	require.Len(t, redirects, 2)

	got := map[string]string{}
	for _, r := range redirects {
		got[r.src] = r.dst
	}
	assert.Equal(t, map[string]string{
		"runtime.gopanic":  "example.com/boot/kernel/kfmt.Panic",
		"runtime.sysAlloc": "example.com/boot/kernel/mem.sysAlloc",
	}, got)
}

func TestFindRedirectsErrors(t *testing.T) {
	t.Run("malformed annotation", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"go.mod": "module example.com/boot\n",
			"kernel/a.go": `package kernel

//go:redirect-from
func f() {}
`,
		})

		_, err := findRedirects(root)
		assert.ErrorContains(t, err, `malformed go:redirect-from syntax for "example.com/boot/kernel.f"`)
	})

	t.Run("parse error", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"go.mod":      "module example.com/boot\n",
			"kernel/a.go": "package kernel\nfunc {",
		})

		_, err := findRedirects(root)
		assert.ErrorContains(t, err, "parsing kernel sources")
	})

	t.Run("missing kernel folder", func(t *testing.T) {
		root := writeTree(t, map[string]string{"go.mod": "module example.com/boot\n"})

		_, err := findRedirects(root)
		assert.ErrorContains(t, err, "scanning")
	})
}

func TestResolveRedirectSymbols(t *testing.T) {
	symbols := []elf.Symbol{
		{Name: "runtime.gopanic", Value: 0x1000},
		{Name: "example.com/boot/kernel/kfmt.Panic", Value: 0x2000},
	}

	redirects := []*redirect{{src: "runtime.gopanic", dst: "example.com/boot/kernel/kfmt.Panic"}}
	require.NoError(t, resolveRedirectSymbols(redirects, symbols, "kernel.bin"))
	assert.Equal(t, uint64(0x1000), redirects[0].srcVMA)
	assert.Equal(t, uint64(0x2000), redirects[0].dstVMA)

	err := resolveRedirectSymbols([]*redirect{{src: "runtime.missing", dst: "example.com/boot/kernel/kfmt.Panic"}}, symbols, "kernel.bin")
	assert.EqualError(t, err, `kernel.bin: could not locate address of "runtime.missing"`)

	err = resolveRedirectSymbols([]*redirect{{src: "runtime.gopanic", dst: "missing"}}, symbols, "kernel.bin")
	assert.EqualError(t, err, `kernel.bin: could not locate address of "missing"`)
}

func TestWriteRedirectTable(t *testing.T) {
	var buf bytes.Buffer
	redirects := []*redirect{
		{srcVMA: 0x1000, dstVMA: 0x2000},
		{srcVMA: 0x3000, dstVMA: 0x4000},
	}

	require.NoError(t, writeRedirectTable(&buf, redirects))

	var table [4]uint64
	require.NoError(t, binary.Read(&buf, binary.LittleEndian, &table))
	assert.Equal(t, [4]uint64{0x1000, 0x2000, 0x3000, 0x4000}, table)
}

func TestElfErrors(t *testing.T) {
	root := writeTree(t, map[string]string{"kernel.bin": "not an elf image"})
	img := filepath.Join(root, "kernel.bin")

	_, err := elfRedirectTableOffset(img)
	assert.ErrorContains(t, err, "opening kernel image")

	assert.ErrorContains(t, elfResolveRedirectSymbols(nil, img), "opening kernel image")
	assert.ErrorContains(t, elfWriteRedirectTable(nil, img), "opening kernel image")
}

func TestCountCommand(t *testing.T) {
	root := writeTree(t, map[string]string{
		"go.mod": "module example.com/boot\n",
		"kernel/a.go": `package kernel

//go:redirect-from runtime.a
func a() {}

//go:redirect-from runtime.b
func b() {}
`,
	})

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--root", root, "count"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "2", out.String())
}

func TestRootCommandRequiresKernelFolder(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--root", t.TempDir(), "count"})

	assert.EqualError(t, cmd.Execute(), "this tool must be run from the module root folder")
}
