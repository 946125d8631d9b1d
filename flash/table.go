package flash

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/moffa90/go-nvflash/layout"
	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
)

// tableCache holds the partition table last read from the device.
type tableCache struct {
	entries []protocol.PartitionEntry
	loaded  bool
}

// Invalidate drops the cached table; the next EnsureLoaded reads it again.
func (c *tableCache) Invalidate() {
	c.entries = nil
	c.loaded = false
}

// EnsureLoaded returns the cached table, reading it with read on first use.
func (c *tableCache) EnsureLoaded(read func() ([]protocol.PartitionEntry, error)) ([]protocol.PartitionEntry, error) {
	if c.loaded {
		return c.entries, nil
	}
	entries, err := read()
	if err != nil {
		return nil, err
	}
	c.entries = entries
	c.loaded = true
	return entries, nil
}

// PartitionTable returns the partition table stored on the device, reading
// it on first use.
func (s *Session) PartitionTable(ctx context.Context) ([]protocol.PartitionEntry, error) {
	if err := s.ensureBootloader(ctx); err != nil {
		return nil, err
	}
	return s.table.EnsureLoaded(func() ([]protocol.PartitionEntry, error) {
		return s.readTable(ctx, &protocol.ReadPartitionTable{})
	})
}

// InvalidateTable forces the next PartitionTable call to read the device.
func (s *Session) InvalidateTable() {
	s.table.Invalidate()
}

// DeviceGeometry implements layout.Source.
func (s *Session) DeviceGeometry(ctx context.Context) (protocol.DevInfo, error) {
	return s.deviceGeometry(ctx)
}

// DevicePartitionTable implements layout.Source. The table is read from the
// placement ref gives the partition-table partition and replaces the cache.
func (s *Session) DevicePartitionTable(ctx context.Context, ref layout.Extent) ([]protocol.PartitionEntry, error) {
	entries, err := s.readTable(ctx, &protocol.ReadPartitionTable{
		StartLogicalSector: uint32(ref.Start),
		NumLogicalSectors:  uint32(ref.Count),
	})
	if err != nil {
		return nil, err
	}
	s.table.entries = entries
	s.table.loaded = true
	return entries, nil
}

func (s *Session) readTable(ctx context.Context, cmd *protocol.ReadPartitionTable) ([]protocol.PartitionEntry, error) {
	if err := s.send(ctx, cmd); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if cmd.Length > 0 {
		if err := s.receiveData(ctx, &buf, cmd.Length); err != nil {
			return nil, fmt.Errorf("read partition table: %w", err)
		}
	}
	if err := s.waitStatus(ctx, cmd.Kind().String()); err != nil {
		return nil, err
	}
	return protocol.DecodeTable(buf.Bytes())
}

// resolve finds the partition id for name. The configuration is searched
// first, then a numeric id is accepted, then the device table is consulted.
// p is nil when the partition is not configured.
func (s *Session) resolve(ctx context.Context, name string) (id uint32, p *partition.Partition, err error) {
	if cp, _ := partition.Find(s.config.Devices, name); cp != nil {
		return cp.ID, cp, nil
	}
	if n, err := strconv.ParseUint(name, 0, 32); err == nil && n != 0 {
		return uint32(n), partition.FindByID(s.config.Devices, uint32(n)), nil
	}

	entries, err := s.PartitionTable(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("partition %s: %w", name, err)
	}
	for _, e := range entries {
		if e.MatchesName(name) {
			return e.ID, nil, nil
		}
	}
	return 0, nil, &PartitionNotFoundError{Name: name}
}
