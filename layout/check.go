package layout

import (
	"context"
	"fmt"

	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
)

// Source is the device side of a skip check.
type Source interface {
	// DeviceGeometry returns the boot device geometry.
	DeviceGeometry(ctx context.Context) (protocol.DevInfo, error)

	// DevicePartitionTable reads the table stored on the device. ref is the
	// configured placement of the partition-table partition.
	DevicePartitionTable(ctx context.Context, ref Extent) ([]protocol.PartitionEntry, error)
}

// Result is the outcome of a successful Check.
type Result struct {
	// FormatPerPartition is set when partitions are skipped: the device must
	// not be erased as a whole
	FormatPerPartition bool

	// UnknownSkips are skip names that match no configured partition
	UnknownSkips []string

	// Extents is the computed layout, in configuration order
	Extents []Extent
}

// Check proves that the partitions named in skip are still where the
// configuration places them. An empty skip list succeeds without touching
// src.
func Check(ctx context.Context, src Source, devs []*partition.Device, skip []string) (Result, error) {
	var res Result
	if len(skip) == 0 {
		return res, nil
	}
	res.FormatPerPartition = true

	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
		if p, _ := partition.Find(devs, name); p == nil {
			res.UnknownSkips = append(res.UnknownSkips, name)
		}
	}

	geom, err := src.DeviceGeometry(ctx)
	if err != nil {
		return res, fmt.Errorf("unable to retrieve device info: %w", err)
	}

	ref := -1
	for _, d := range devs {
		extents, err := Compute(d.Partitions, geom)
		if err != nil {
			return res, err
		}
		for _, e := range extents {
			if e.Name == partition.TableName && ref < 0 {
				ref = len(res.Extents)
			}
			res.Extents = append(res.Extents, e)
		}
	}
	if ref < 0 || res.Extents[ref].Count == 0 {
		return res, ErrNoPartitionTable
	}

	table, err := src.DevicePartitionTable(ctx, res.Extents[ref])
	if err != nil {
		return res, fmt.Errorf("unable to retrieve partition table from device: %w", err)
	}

	for _, e := range res.Extents {
		if !skipped[e.Name] {
			continue
		}
		entry, ok := lookup(table, e)
		if !ok {
			return res, &MismatchError{Partition: e.Name, WantStart: e.Start, WantCount: e.Count}
		}
		if uint64(entry.StartLogicalSector) != e.Start || uint64(entry.NumLogicalSectors) != e.Count {
			return res, &MismatchError{
				Partition:   e.Name,
				WantStart:   e.Start,
				WantCount:   e.Count,
				DeviceStart: uint64(entry.StartLogicalSector),
				DeviceCount: uint64(entry.NumLogicalSectors),
			}
		}
	}
	return res, nil
}

// lookup finds the device entry for e by id, confirming the name.
func lookup(table []protocol.PartitionEntry, e Extent) (protocol.PartitionEntry, bool) {
	for _, entry := range table {
		if entry.ID == e.ID && entry.MatchesName(e.Name) {
			return entry, true
		}
	}
	return protocol.PartitionEntry{}, false
}
