package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"gopherboot/kernel"
	"gopherboot/kernel/hal/e820"
	"gopherboot/kernel/kfmt"
	"gopherboot/kernel/mem"
	"gopherboot/kernel/mem/pmm/allocator"
	"gopherboot/kernel/mem/rangeset"
)

const (
	// maxHeldBlocks caps the number of live allocations per stage.
	maxHeldBlocks = 64

	// maxAlignShift bounds the random alignment to 4K.
	maxAlignShift = 12
)

var (
	// imageHint is where the loader prefers to place the kernel image.
	imageHint = rangeset.Range{Start: uint64(mem.Mb), End: uint64(16*mem.Mb) - 1}
)

type simOptions struct {
	source     mapSourceFlags
	stages     int
	ops        int
	seed       int64
	maxBlock   sizeValue
	arenaLimit sizeValue
	image      string
	metrics    bool
}

type stageStats struct {
	allocs   int
	frees    int
	failures int
	bytes    uint64
}

type block struct {
	addr    uintptr
	size    uint64
	pattern byte
}

func newSimCmd() *cobra.Command {
	opts := simOptions{
		stages:     2,
		ops:        1000,
		seed:       1,
		maxBlock:   sizeValue(64 * mem.Kb),
		arenaLimit: sizeValue(4 * mem.Gb),
	}

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run concurrent boot stages against the shared physical allocator",
		Long: `The sim command initialises the shared physical allocator from a memory map
and backs the described physical address space with an anonymous mapping.
Each simulated stage then runs a random sequence of allocations and frees,
filling every granted block with a stage specific pattern and verifying it
before the block is returned. A mismatch means two stages were granted the
same memory.

Example:
  memmap sim --map qemu-128m.yaml --stages 4 --ops 10000
  memmap sim --map qemu-128m.yaml --image kernel.elf --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSim(cmd.Context(), cmd.OutOrStdout(), &opts)
		},
	}

	opts.source.register(cmd)
	cmd.Flags().IntVar(&opts.stages, "stages", opts.stages, "Number of concurrent stages")
	cmd.Flags().IntVar(&opts.ops, "ops", opts.ops, "Number of operations per stage")
	cmd.Flags().Int64Var(&opts.seed, "seed", opts.seed, "Seed for the random operation sequence")
	cmd.Flags().Var(&opts.maxBlock, "max-block", "Largest block a stage allocates")
	cmd.Flags().Var(&opts.arenaLimit, "arena-limit", "Largest physical address space the simulation maps")
	cmd.Flags().StringVar(&opts.image, "image", "", "File to load into an allocated block before the stages start")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print allocator metrics in the Prometheus text format")
	return cmd
}

// physicalTop returns one past the highest available address in entries.
func physicalTop(entries e820.Entries) uint64 {
	var top uint64
	for _, entry := range entries {
		if entry.Type == e820.MemAvailable && entry.PhysAddress+entry.Length > top {
			top = entry.PhysAddress + entry.Length
		}
	}
	return top
}

func runSim(ctx context.Context, w io.Writer, opts *simOptions) error {
	if opts.stages < 1 || opts.stages > 255 {
		return errors.Errorf("invalid stage count %d", opts.stages)
	}

	if opts.maxBlock == 0 {
		return errors.New("max block size must not be zero")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := opts.source.load()
	if err != nil {
		return err
	}

	top := physicalTop(entries)
	if top > uint64(opts.arenaLimit) {
		return errors.Errorf("memory map top 0x%x exceeds the arena limit 0x%x", top, uint64(opts.arenaLimit))
	}

	phys, err := newArena(top)
	if err != nil {
		return err
	}
	defer phys.close()

	if err := initAllocator(entries); err != nil {
		return err
	}

	metrics := newSimMetrics()

	var (
		image     *block
		imageData []byte
	)
	if opts.image != "" {
		if image, imageData, err = loadImage(phys, opts.image); err != nil {
			return err
		}
		fmt.Fprintf(w, "Loaded %s at 0x%x (%s)\n", opts.image, image.addr, humanSize(image.size))
	}

	freeBefore, _ := allocator.FreeMemory()

	stats := make([]stageStats, opts.stages)
	g, gctx := errgroup.WithContext(ctx)
	for stage := 0; stage < opts.stages; stage++ {
		g.Go(func() error {
			return runStage(gctx, phys, stage, opts, metrics, &stats[stage])
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if freeAfter, _ := allocator.FreeMemory(); freeAfter != freeBefore {
		return errors.Errorf("stages leaked %d bytes", int64(freeBefore)-int64(freeAfter))
	}

	if image != nil {
		if !bytes.Equal(phys.bytes(image.addr, image.size), imageData) {
			return errors.Errorf("image at 0x%x was overwritten", image.addr)
		}
		allocator.Free(image.addr, image.size)
	}

	if err := printStageStats(w, stats); err != nil {
		return err
	}

	if opts.metrics {
		return metrics.write(w)
	}
	return nil
}

// initAllocator initialises the shared allocator. The memory map dump goes to
// stderr when verbose logging is enabled.
func initAllocator(entries e820.Entries) (err error) {
	defer catchKernelError(&err, "initialising allocator")

	var out io.Writer = io.Discard
	if klog.V(1).Enabled() {
		out = os.Stderr
	}
	kfmt.SetOutputSink(out)

	if kerr := allocator.Init(entries); kerr != nil {
		return kerr
	}
	return nil
}

// loadImage copies the file at path into a page aligned block, preferring the
// low memory window the loader uses for kernel images.
func loadImage(phys *arena, path string) (*block, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading image")
	}

	if len(data) == 0 {
		return nil, nil, errors.Errorf("%s: image is empty", path)
	}

	var hint rangeset.RangeSet
	hint.Insert(imageHint)

	addr, kerr := allocator.AllocateIn(uint64(len(data)), uint64(mem.PageSize), &hint)
	if kerr != nil {
		return nil, nil, errors.Wrapf(kerr, "allocating %d bytes for %s", len(data), path)
	}

	kernel.Memcopy(uintptr(unsafe.Pointer(&data[0])), phys.addr(addr), uintptr(len(data)))

	img := &block{addr: addr, size: uint64(len(data))}
	if !bytes.Equal(phys.bytes(img.addr, img.size), data) {
		return nil, nil, errors.Errorf("image copy at 0x%x does not match %s", addr, path)
	}

	klog.V(2).Infof("loaded %s at 0x%x", path, addr)
	return img, data, nil
}

func runStage(ctx context.Context, phys *arena, stage int, opts *simOptions, metrics *simMetrics, stats *stageStats) (err error) {
	defer catchKernelError(&err, fmt.Sprintf("stage %d", stage))

	var (
		rng   = rand.New(rand.NewSource(opts.seed + int64(stage)))
		held  []block
		label = strconv.Itoa(stage)
		seq   int
	)

	release := func(index int) error {
		b := held[index]
		if err := verifyBlock(phys, stage, b); err != nil {
			return err
		}

		allocator.Free(b.addr, b.size)
		held[index] = held[len(held)-1]
		held = held[:len(held)-1]

		stats.frees++
		metrics.operations.WithLabelValues(label, "free", "ok").Inc()
		return nil
	}

	for op := 0; op < opts.ops; op++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(held) > 0 && (len(held) >= maxHeldBlocks || rng.Intn(2) == 0) {
			if err := release(rng.Intn(len(held))); err != nil {
				return err
			}
			continue
		}

		size := 1 + uint64(rng.Int63n(int64(opts.maxBlock)))
		align := uint64(1) << uint(rng.Intn(maxAlignShift+1))

		addr, kerr := allocator.Allocate(size, align)
		if kerr != nil {
			klog.V(3).Infof("stage %d: allocating %d bytes aligned to %d: %s", stage, size, align, kerr.Message)
			stats.failures++
			metrics.operations.WithLabelValues(label, "alloc", "failed").Inc()
			continue
		}

		if uint64(addr)%align != 0 {
			return errors.Errorf("stage %d: address 0x%x is not aligned to 0x%x", stage, addr, align)
		}

		if uint64(addr)+size > uint64(len(phys.mem)) {
			return errors.Errorf("stage %d: block [0x%x, 0x%x) lies outside physical memory", stage, addr, uint64(addr)+size)
		}

		seq++
		b := block{addr: addr, size: size, pattern: blockPattern(stage, seq)}
		kernel.Memset(phys.addr(addr), b.pattern, uintptr(size))
		held = append(held, b)

		stats.allocs++
		stats.bytes += size
		metrics.operations.WithLabelValues(label, "alloc", "ok").Inc()
		metrics.bytes.WithLabelValues(label).Add(float64(size))
	}

	for len(held) > 0 {
		if err := release(len(held) - 1); err != nil {
			return err
		}
	}

	return nil
}

// blockPattern returns the fill byte for the seq-th block of a stage. It is
// never zero so untouched memory does not verify.
func blockPattern(stage, seq int) byte {
	return byte(1 + (stage*31+seq)%255)
}

func verifyBlock(phys *arena, stage int, b block) error {
	for offset, v := range phys.bytes(b.addr, b.size) {
		if v != b.pattern {
			return errors.Errorf("stage %d: block [0x%x, 0x%x) corrupted at 0x%x: memory granted twice",
				stage, b.addr, uint64(b.addr)+b.size, uint64(b.addr)+uint64(offset))
		}
	}
	return nil
}

func printStageStats(w io.Writer, stats []stageStats) error {
	td := pterm.TableData{{"Stage", "Allocations", "Frees", "Failed", "Allocated"}}
	for stage, s := range stats {
		td = append(td, []string{
			strconv.Itoa(stage),
			strconv.Itoa(s.allocs),
			strconv.Itoa(s.frees),
			strconv.Itoa(s.failures),
			humanSize(s.bytes),
		})
	}

	printSection(w, "Simulation summary")
	return printTable(w, td)
}
