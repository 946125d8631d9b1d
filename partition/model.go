// Package partition models storage devices and the partitions a configuration
// file creates on them.
package partition

import (
	"github.com/moffa90/go-nvflash/protocol"
)

// Attribute bits.
const (
	// AttrPreserve in PartitionAttribute marks a partition whose contents
	// survive a reformat: it is backed up before create and restored after.
	AttrPreserve uint32 = 0x1

	// AllocRemaining in AllocationAttribute marks a partition that takes all
	// the capacity left on its device.
	AllocRemaining uint32 = 0x808
)

// Well-known partition names.
const (
	// TableName is the partition holding the partition table. Its layout is
	// the reference used to read the table back from the device.
	TableName = "PT"

	// DtbName is the partition whose file a DTB override replaces.
	DtbName = "DTB"
)

// Device is a storage device and the partitions it holds, in creation order.
type Device struct {
	Type       protocol.DeviceType
	Instance   uint32
	Partitions []*Partition
}

// Partition is one partition as described by the configuration file.
type Partition struct {
	Name                string
	ID                  uint32
	Type                protocol.PartitionType
	FileSystem          protocol.FileSystem
	Allocation          protocol.AllocationPolicy
	StartAddress        uint32
	Size                uint64
	FileSystemAttribute uint32
	PartitionAttribute  uint32
	AllocationAttribute uint32
	PercentReserved     uint32

	// Filename is the download source, if any
	Filename string

	original    string
	substituted bool
}

// Preserve reports whether the partition is flagged preserve-across-reformat.
func (p *Partition) Preserve() bool {
	return p.PartitionAttribute&AttrPreserve != 0
}

// RemainingCapacity reports whether the partition is sized by the free
// space left on its device.
func (p *Partition) RemainingCapacity() bool {
	return p.AllocationAttribute&AllocRemaining == AllocRemaining
}

// SetFilename replaces the download source, remembering the configured one
// so RestoreFilename can put it back.
func (p *Partition) SetFilename(path string) {
	if !p.substituted {
		p.original = p.Filename
		p.substituted = true
	}
	p.Filename = path
}

// RestoreFilename undoes SetFilename.
func (p *Partition) RestoreFilename() {
	if p.substituted {
		p.Filename = p.original
		p.substituted = false
	}
}

// CreateCommand builds the CreatePartition command for p.
func (p *Partition) CreateCommand() *protocol.CreatePartition {
	return &protocol.CreatePartition{
		Name:                p.Name,
		Size:                p.Size,
		Address:             p.StartAddress,
		ID:                  p.ID,
		Type:                p.Type,
		FileSystem:          p.FileSystem,
		AllocationPolicy:    p.Allocation,
		FileSystemAttribute: p.FileSystemAttribute,
		PartitionAttribute:  p.PartitionAttribute,
		AllocationAttribute: p.AllocationAttribute,
		PercentReserved:     p.PercentReserved,
	}
}

// All returns every partition of devs in configuration order.
func All(devs []*Device) []*Partition {
	var out []*Partition
	for _, d := range devs {
		out = append(out, d.Partitions...)
	}
	return out
}

// Count returns the total number of partitions across devs.
func Count(devs []*Device) int {
	n := 0
	for _, d := range devs {
		n += len(d.Partitions)
	}
	return n
}

// Find returns the partition called name and the device holding it.
func Find(devs []*Device, name string) (*Partition, *Device) {
	for _, d := range devs {
		for _, p := range d.Partitions {
			if p.Name == name {
				return p, d
			}
		}
	}
	return nil, nil
}

// FindByID returns the partition with id.
func FindByID(devs []*Device, id uint32) *Partition {
	for _, d := range devs {
		for _, p := range d.Partitions {
			if p.ID == id {
				return p
			}
		}
	}
	return nil
}
