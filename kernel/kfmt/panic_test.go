package kfmt

import (
	"bytes"
	"errors"
	"gopherboot/kernel"
	"gopherboot/kernel/cpu"
	"testing"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		outputSink = nil
	}()

	var (
		buf           bytes.Buffer
		cpuHaltCalled bool
	)
	SetOutputSink(&buf)
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}

	specs := []struct {
		descr  string
		input  interface{}
		expOut string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "rangeset", Message: "too many entries"},
			"\n-----------------------------------\n[rangeset] unrecoverable error: too many entries\n*** boot panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** boot panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** boot panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** boot panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			buf.Reset()
			cpuHaltCalled = false

			Panic(spec.input)

			if got := buf.String(); got != spec.expOut {
				t.Fatalf("expected to get:\n%q\ngot:\n%q", spec.expOut, got)
			}

			if !cpuHaltCalled {
				t.Fatal("expected cpu.Halt() to be called by Panic")
			}
		})
	}
}
