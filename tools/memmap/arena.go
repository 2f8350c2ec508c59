package main

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// arena is an anonymous mapping that stands in for physical memory. The
// physical address p is backed by the arena byte at offset p, so addresses
// handed out by the allocator can be used directly after adding base.
type arena struct {
	mem  []byte
	base uintptr
}

func newArena(size uint64) (*arena, error) {
	if size == 0 || size > uint64(^uint(0)>>1) {
		return nil, errors.Errorf("invalid arena size 0x%x", size)
	}

	mem, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping 0x%x byte arena", size)
	}

	return &arena{mem: mem, base: uintptr(unsafe.Pointer(&mem[0]))}, nil
}

// addr translates a physical address into an address inside the arena.
func (a *arena) addr(phys uintptr) uintptr {
	return a.base + phys
}

// bytes returns the arena slice backing [phys, phys+size).
func (a *arena) bytes(phys uintptr, size uint64) []byte {
	return a.mem[phys : uint64(phys)+size]
}

func (a *arena) close() error {
	return errors.Wrap(unix.Munmap(a.mem), "unmapping arena")
}
