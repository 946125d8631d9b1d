// Package layout computes where partitions land on a device and checks that
// partitions skipped during a reflash still sit where the configuration puts
// them.
package layout

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
)

// ErrNoPartitionTable is returned when the configuration has no PT partition
// to read the device table with.
var ErrNoPartitionTable = errors.New("PT partition absent in the configuration")

// LayoutError indicates a configuration that cannot be placed on the device.
type LayoutError struct {
	Partition string
	Reason    string
}

func (e *LayoutError) Error() string {
	if e.Partition == "" {
		return fmt.Sprintf("invalid layout: %s", e.Reason)
	}
	return fmt.Sprintf("invalid layout for partition %s: %s", e.Partition, e.Reason)
}

// MismatchError indicates that a skipped partition has moved or changed size
// on the device since it was created.
type MismatchError struct {
	Partition   string
	WantStart   uint64
	WantCount   uint64
	DeviceStart uint64
	DeviceCount uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("partition boundaries mismatch for %s partition: configured %d+%d sectors, device has %d+%d",
		e.Partition, e.WantStart, e.WantCount, e.DeviceStart, e.DeviceCount)
}

// Extent is the computed placement of a partition in logical sectors.
type Extent struct {
	Name  string
	ID    uint32
	Start uint64
	Count uint64
}

// Compute places parts, in order, on a device with geometry geom.
//
// Every size is rounded up to the device allocation unit. A partition with
// the remaining-capacity attribute receives every sector the others leave
// free; a device may hold only one.
func Compute(parts []*partition.Partition, geom protocol.DevInfo) ([]Extent, error) {
	unit := geom.SectorMultiple()
	total := geom.TotalSectors()
	if unit == 0 || total == 0 {
		return nil, &LayoutError{Reason: fmt.Sprintf("device reports no capacity (%d bytes/sector, %d sectors/block, %d blocks)",
			geom.BytesPerSector, geom.SectorsPerBlock, geom.TotalBlocks)}
	}
	bps := uint64(geom.BytesPerSector)

	counts := make([]uint64, len(parts))
	remainder := -1
	var used uint64
	for i, p := range parts {
		if p.RemainingCapacity() {
			if remainder >= 0 {
				return nil, &LayoutError{
					Partition: p.Name,
					Reason:    fmt.Sprintf("%s already takes the remaining capacity", parts[remainder].Name),
				}
			}
			remainder = i
			continue
		}
		counts[i] = roundUp(p.Size, unit) / bps
		used += counts[i]
	}

	if used > total {
		return nil, &LayoutError{Reason: fmt.Sprintf("partitions need %d sectors, device has %d", used, total)}
	}
	if remainder >= 0 {
		p := parts[remainder]
		counts[remainder] = total - used
		if counts[remainder]*bps < p.Size {
			return nil, &LayoutError{
				Partition: p.Name,
				Reason:    fmt.Sprintf("%d sectors left, %d bytes requested", counts[remainder], p.Size),
			}
		}
	}

	extents := make([]Extent, len(parts))
	var start uint64
	for i, p := range parts {
		extents[i] = Extent{Name: p.Name, ID: p.ID, Start: start, Count: counts[i]}
		start += counts[i]
	}
	return extents, nil
}

func roundUp(n, unit uint64) uint64 {
	return (n + unit - 1) / unit * unit
}
