package partition

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/moffa90/go-nvflash/cfgparse"
	"github.com/moffa90/go-nvflash/protocol"
)

// ErrNoDevices is returned when a configuration describes no device.
var ErrNoDevices = errors.New("configuration describes no device")

// Load reads the partition configuration at path.
//
// The file holds device sections followed by the partitions created on
// that device:
//
//	<device:emmc; instance:3>
//	<name:BCT; id:2; type:bct; allocation_policy:sequential; size:3145728; filename:bct.bin>
//	<name:PT; id:3; type:partition_table; allocation_policy:sequential; size:4096>
//	<name:APP; id:4; type:data; allocation_policy:sequential; size:0; allocation_attribute:0x808>
func Load(path string) ([]*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadReader(f)
}

// LoadReader reads a partition configuration from r.
func LoadReader(r io.Reader) ([]*Device, error) {
	l := &loader{}
	// Partition names and file paths are case-sensitive; keys are folded by
	// the loader itself.
	_, err := cfgparse.ParseReader(r, l.section, cfgparse.WithCaseSensitive(true))
	if l.err != nil {
		return nil, l.err
	}
	if err != nil {
		return nil, err
	}
	if len(l.devices) == 0 {
		return nil, ErrNoDevices
	}
	return l.devices, nil
}

// loader accumulates devices and partitions across parser callbacks.
type loader struct {
	devices []*Device
	err     error
}

func (l *loader) fail(format string, args ...interface{}) cfgparse.Status {
	l.err = fmt.Errorf(format, args...)
	return cfgparse.Error
}

func (l *loader) section(rec cfgparse.Record) cfgparse.Status {
	if len(rec) == 0 {
		return cfgparse.Continue
	}
	switch key(rec[0].Key) {
	case "device", "device type", "device_type":
		return l.device(rec)
	case "name":
		return l.partition(rec)
	default:
		return l.fail("unexpected section starting with %q", rec[0].Key)
	}
}

func (l *loader) device(rec cfgparse.Record) cfgparse.Status {
	d := &Device{}
	for _, p := range rec {
		switch key(p.Key) {
		case "device", "device type", "device_type":
			t, err := parseDeviceType(p.Value)
			if err != nil {
				return l.fail("device: %w", err)
			}
			d.Type = t
		case "instance":
			n, err := parseUint32(p.Value)
			if err != nil {
				return l.fail("device instance: %w", err)
			}
			d.Instance = n
		default:
			return l.fail("device: unknown key %q", p.Key)
		}
	}
	l.devices = append(l.devices, d)
	return cfgparse.Continue
}

func (l *loader) partition(rec cfgparse.Record) cfgparse.Status {
	if len(l.devices) == 0 {
		return l.fail("partition %q declared before any device", rec[0].Value)
	}
	dev := l.devices[len(l.devices)-1]

	part := &Partition{
		FileSystem: protocol.FileSystemBasic,
		Allocation: protocol.AllocationSequential,
	}
	for _, p := range rec {
		var err error
		switch key(p.Key) {
		case "name":
			part.Name = p.Value
		case "id":
			part.ID, err = parseUint32(p.Value)
		case "type":
			part.Type, err = protocol.ParsePartitionType(strings.ToLower(p.Value))
		case "allocation_policy":
			part.Allocation, err = parseAllocation(p.Value)
		case "filesystem_type":
			part.FileSystem, err = parseFileSystem(p.Value)
		case "start_location":
			part.StartAddress, err = parseUint32(p.Value)
		case "size":
			part.Size, err = strconv.ParseUint(p.Value, 0, 64)
		case "file_system_attribute":
			part.FileSystemAttribute, err = parseUint32(p.Value)
		case "partition_attribute":
			part.PartitionAttribute, err = parseUint32(p.Value)
		case "allocation_attribute":
			part.AllocationAttribute, err = parseUint32(p.Value)
		case "percent_reserved":
			part.PercentReserved, err = parseUint32(p.Value)
		case "filename":
			part.Filename = p.Value
		default:
			return l.fail("partition %q: unknown key %q", part.Name, p.Key)
		}
		if err != nil {
			return l.fail("partition %q: %s: %w", part.Name, p.Key, err)
		}
	}

	if part.Name == "" {
		return l.fail("partition without a name")
	}
	if part.ID == 0 {
		return l.fail("partition %q: missing id", part.Name)
	}
	if part.Type == 0 {
		return l.fail("partition %q: missing type", part.Name)
	}
	for _, other := range dev.Partitions {
		if other.ID == part.ID {
			return l.fail("partition %q: id %d already used by %q", part.Name, part.ID, other.Name)
		}
		if other.Name == part.Name {
			return l.fail("partition %q declared twice", part.Name)
		}
	}

	dev.Partitions = append(dev.Partitions, part)
	return cfgparse.Continue
}

func key(k string) string {
	return strings.ToLower(k)
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	return uint32(n), err
}

func parseDeviceType(s string) (protocol.DeviceType, error) {
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return protocol.DeviceType(n), nil
	}
	return protocol.ParseDeviceType(strings.ToLower(s))
}

func parseAllocation(s string) (protocol.AllocationPolicy, error) {
	switch strings.ToLower(s) {
	case "none":
		return protocol.AllocationNone, nil
	case "absolute":
		return protocol.AllocationAbsolute, nil
	case "sequential":
		return protocol.AllocationSequential, nil
	}
	return 0, fmt.Errorf("unknown allocation policy %q", s)
}

func parseFileSystem(s string) (protocol.FileSystem, error) {
	switch strings.ToLower(s) {
	case "basic":
		return protocol.FileSystemBasic, nil
	case "external", "ext":
		return protocol.FileSystemExternal, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown filesystem type %q", s)
	}
	return protocol.FileSystem(n), nil
}
