package main

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"gopherboot/kernel/hal/e820"
)

// defaultSysfsRoot is where Linux exposes the raw firmware memory map, one
// numbered directory per E820 descriptor in the order the firmware reported
// them.
const defaultSysfsRoot = "/sys/firmware/memmap"

// sysfsTypes maps the type strings used by Linux back to E820 types. Anything
// else is treated as reserved.
var sysfsTypes = map[string]e820.MemoryEntryType{
	"System RAM":                e820.MemAvailable,
	"Reserved":                  e820.MemReserved,
	"ACPI Tables":               e820.MemAcpiReclaimable,
	"ACPI Non-volatile Storage": e820.MemNvs,
	"Unusable memory":           e820.MemUnusable,
}

func readSysfsMap(root string) (e820.Entries, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "reading firmware memory map")
	}

	type indexedEntry struct {
		index int
		entry e820.MemoryMapEntry
	}

	var indexed []indexedEntry
	for _, dirEntry := range dirEntries {
		index, err := strconv.Atoi(dirEntry.Name())
		if err != nil || !dirEntry.IsDir() {
			klog.V(4).Infof("skipping %s", filepath.Join(root, dirEntry.Name()))
			continue
		}

		entry, err := readSysfsEntry(filepath.Join(root, dirEntry.Name()))
		if err != nil {
			return nil, err
		}
		indexed = append(indexed, indexedEntry{index: index, entry: entry})
	}

	if len(indexed) == 0 {
		return nil, errors.Errorf("%s: no memory map entries found", root)
	}

	sort.Slice(indexed, func(i, j int) bool { return indexed[i].index < indexed[j].index })

	entries := make(e820.Entries, 0, len(indexed))
	for _, ie := range indexed {
		entries = append(entries, ie.entry)
	}

	klog.V(2).Infof("read %d memory map entries from %s", len(entries), root)
	return entries, nil
}

func readSysfsEntry(dir string) (e820.MemoryMapEntry, error) {
	var (
		entry      e820.MemoryMapEntry
		start, end uint64
	)

	for _, field := range []struct {
		name string
		dst  *uint64
	}{
		{"start", &start},
		{"end", &end},
	} {
		raw, err := os.ReadFile(filepath.Join(dir, field.name))
		if err != nil {
			return entry, errors.Wrap(err, "reading memory map entry")
		}

		if *field.dst, err = strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 64); err != nil {
			return entry, errors.Wrapf(err, "%s: parsing %s", dir, field.name)
		}
	}

	if end < start {
		return entry, errors.Errorf("%s: end 0x%x is below start 0x%x", dir, end, start)
	}

	rawType, err := os.ReadFile(filepath.Join(dir, "type"))
	if err != nil {
		return entry, errors.Wrap(err, "reading memory map entry")
	}

	typ, ok := sysfsTypes[strings.TrimSpace(string(rawType))]
	if !ok {
		typ = e820.MemReserved
	}

	// sysfs ends are inclusive; a region covering the whole 64-bit space
	// cannot be expressed as a length and is clamped by one byte.
	length := end - start + 1
	if length == 0 {
		length = end - start
	}

	entry.PhysAddress = start
	entry.Length = length
	entry.Type = typ
	return entry, nil
}
