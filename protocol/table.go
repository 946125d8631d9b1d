package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EntrySize is the size in bytes of one encoded partition table record.
//
// Record layout (little-endian):
//
//	[ID u32][NAME 4][DEVICE_ID u32][START_SECTOR u32][NUM_SECTORS u32]
//	[BYTES_PER_SECTOR u32][START_PHYS u64][END_PHYS u64]
const EntrySize = 40

// PartitionEntry is one record of the partition table stored on the device.
type PartitionEntry struct {
	ID                 uint32
	Name               [EntryNameLength]byte
	DeviceID           uint32
	StartLogicalSector uint32
	NumLogicalSectors  uint32
	BytesPerSector     uint32
	StartPhysical      uint64
	EndPhysical        uint64
}

// EntryName packs a partition name into the 4-byte entry name field.
// Longer names are truncated, as the device does.
func EntryName(name string) [EntryNameLength]byte {
	var n [EntryNameLength]byte
	copy(n[:], name)
	return n
}

// NameString returns the entry name without NUL padding.
func (e PartitionEntry) NameString() string {
	return string(bytes.TrimRight(e.Name[:], "\x00"))
}

// MatchesName reports whether the entry name matches a configuration name,
// taking truncation to EntryNameLength into account.
func (e PartitionEntry) MatchesName(name string) bool {
	if len(name) > EntryNameLength {
		name = name[:EntryNameLength]
	}
	return e.NameString() == name
}

// EncodeTable serializes entries to the on-wire record format.
func EncodeTable(entries []PartitionEntry) []byte {
	buf := make([]byte, EntrySize*len(entries))
	for i, e := range entries {
		rec := buf[i*EntrySize:]
		binary.LittleEndian.PutUint32(rec[0:4], e.ID)
		copy(rec[4:8], e.Name[:])
		binary.LittleEndian.PutUint32(rec[8:12], e.DeviceID)
		binary.LittleEndian.PutUint32(rec[12:16], e.StartLogicalSector)
		binary.LittleEndian.PutUint32(rec[16:20], e.NumLogicalSectors)
		binary.LittleEndian.PutUint32(rec[20:24], e.BytesPerSector)
		binary.LittleEndian.PutUint64(rec[24:32], e.StartPhysical)
		binary.LittleEndian.PutUint64(rec[32:40], e.EndPhysical)
	}
	return buf
}

// DecodeTable parses records produced by EncodeTable. Trailing records with a
// zero id terminate the table.
func DecodeTable(data []byte) ([]PartitionEntry, error) {
	if len(data)%EntrySize != 0 {
		return nil, fmt.Errorf("partition table length %d is not a multiple of %d", len(data), EntrySize)
	}

	entries := make([]PartitionEntry, 0, len(data)/EntrySize)
	for off := 0; off < len(data); off += EntrySize {
		rec := data[off : off+EntrySize]
		e := PartitionEntry{
			ID:                 binary.LittleEndian.Uint32(rec[0:4]),
			DeviceID:           binary.LittleEndian.Uint32(rec[8:12]),
			StartLogicalSector: binary.LittleEndian.Uint32(rec[12:16]),
			NumLogicalSectors:  binary.LittleEndian.Uint32(rec[16:20]),
			BytesPerSector:     binary.LittleEndian.Uint32(rec[20:24]),
			StartPhysical:      binary.LittleEndian.Uint64(rec[24:32]),
			EndPhysical:        binary.LittleEndian.Uint64(rec[32:40]),
		}
		copy(e.Name[:], rec[4:8])
		if e.ID == 0 {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteTableText writes the table in the key=value text form used by
// getpartitiontable dumps.
func WriteTableText(w io.Writer, entries []PartitionEntry) error {
	for _, e := range entries {
		_, err := fmt.Fprintf(w,
			"PartitionId=%d\r\nName=%s\r\nDeviceId=%d\r\nStartSector=%d\r\nNumSectors=%d\r\nBytesPerSector=%d\r\nStartPhysicalAddress=0x%x\r\nEndPhysicalAddress=0x%x\r\n\r\n",
			e.ID, e.NameString(), e.DeviceID, e.StartLogicalSector, e.NumLogicalSectors,
			e.BytesPerSector, e.StartPhysical, e.EndPhysical)
		if err != nil {
			return err
		}
	}
	return nil
}
