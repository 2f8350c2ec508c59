package main

import (
	"fmt"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"gopherboot/kernel/hal/e820"
)

// mapFile is the on-disk description of a firmware memory map:
//
//	regions:
//	  - base: 0x100000
//	    size: 127M
//	    type: available
type mapFile struct {
	Regions []mapRegion `yaml:"regions"`
}

type mapRegion struct {
	Base sizeValue  `yaml:"base"`
	Size sizeValue  `yaml:"size"`
	Type regionType `yaml:"type"`
}

func readMapFile(path string) (e820.Entries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading memory map")
	}

	entries, err := parseMapFile(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return entries, nil
}

func parseMapFile(data []byte) (e820.Entries, error) {
	var f mapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	if len(f.Regions) == 0 {
		return nil, errors.New("memory map has no regions")
	}

	entries := make(e820.Entries, 0, len(f.Regions))
	for _, r := range f.Regions {
		entries = append(entries, e820.MemoryMapEntry{
			PhysAddress: uint64(r.Base),
			Length:      uint64(r.Size),
			Type:        e820.MemoryEntryType(r.Type),
		})
	}
	return entries, nil
}

func marshalMapFile(entries e820.Entries) ([]byte, error) {
	f := mapFile{Regions: make([]mapRegion, 0, len(entries))}
	for _, entry := range entries {
		f.Regions = append(f.Regions, mapRegion{
			Base: sizeValue(entry.PhysAddress),
			Size: sizeValue(entry.Length),
			Type: regionType(entry.Type),
		})
	}
	return yaml.Marshal(&f)
}

// sizeValue is a byte count or address written as a decimal or 0x prefixed
// hex number with an optional K, M or G binary suffix. It is used both in map
// files and as a command line flag.
type sizeValue uint64

var sizeSuffixes = []struct {
	suffix string
	shift  uint
}{
	{"KIB", 10}, {"MIB", 20}, {"GIB", 30},
	{"K", 10}, {"M", 20}, {"G", 30},
}

func parseSize(s string) (sizeValue, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	var shift uint
	// Suffixes are only accepted on decimal numbers.
	if !strings.HasPrefix(upper, "0X") {
		for _, unit := range sizeSuffixes {
			if strings.HasSuffix(upper, unit.suffix) {
				s, shift = s[:len(s)-len(unit.suffix)], unit.shift
				break
			}
		}
	}

	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, errors.Errorf("invalid size %q", s)
	}

	hi, lo := bits.Mul64(v, 1<<shift)
	if hi != 0 {
		return 0, errors.Errorf("size %q overflows 64 bits", s)
	}
	return sizeValue(lo), nil
}

var _ pflag.Value = (*sizeValue)(nil)

func (v *sizeValue) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseSize(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*v = parsed
	return nil
}

func (v sizeValue) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: v.String()}, nil
}

// String implements pflag.Value.
func (v *sizeValue) String() string {
	return fmt.Sprintf("0x%x", uint64(*v))
}

// Set implements pflag.Value.
func (v *sizeValue) Set(s string) error {
	parsed, err := parseSize(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Type implements pflag.Value.
func (v *sizeValue) Type() string {
	return "size"
}

// regionType is an E820 descriptor type given either by number or by name.
type regionType e820.MemoryEntryType

var regionTypeNames = map[string]e820.MemoryEntryType{
	"available":        e820.MemAvailable,
	"usable":           e820.MemAvailable,
	"reserved":         e820.MemReserved,
	"acpi":             e820.MemAcpiReclaimable,
	"acpi-reclaimable": e820.MemAcpiReclaimable,
	"nvs":              e820.MemNvs,
	"acpi-nvs":         e820.MemNvs,
	"unusable":         e820.MemUnusable,
}

func (t *regionType) UnmarshalYAML(node *yaml.Node) error {
	if v, err := strconv.ParseUint(node.Value, 0, 32); err == nil {
		*t = regionType(v)
		return nil
	}

	typ, ok := regionTypeNames[strings.ToLower(strings.TrimSpace(node.Value))]
	if !ok {
		return errors.Errorf("line %d: unknown region type %q", node.Line, node.Value)
	}
	*t = regionType(typ)
	return nil
}

func (t regionType) MarshalYAML() (interface{}, error) {
	switch typ := e820.MemoryEntryType(t); typ {
	case e820.MemAvailable:
		return "available", nil
	case e820.MemReserved:
		return "reserved", nil
	case e820.MemAcpiReclaimable:
		return "acpi-reclaimable", nil
	case e820.MemNvs:
		return "acpi-nvs", nil
	case e820.MemUnusable:
		return "unusable", nil
	default:
		return uint32(typ), nil
	}
}
