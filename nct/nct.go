// Package nct builds the NVIDIA configuration table (NCT) partition image
// from its text description, and encodes single NCT items.
//
// An NCT file describes a header and then the entries of the table:
//
//	<vid:0x955; pid:0x7030; revision:3; version:0x00010000>
//	<offset:0x4000>
//	<name:serial; idx:0; tag:0x80; data:0421612072812>
//	<name:wifi; idx:1; tag:0x1A; data:0x00; data:0x04; data:0x4b>
//
// Only sections that follow the version 0x00010000 header are used; a second
// header ends the table. Keys are case-sensitive.
package nct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/moffa90/go-nvflash/cfgparse"
)

const (
	// Magic starts every table image.
	Magic = "tNCT"

	// FormatVersion is the only table version understood.
	FormatVersion = 0x00010000

	// HeaderSize is the size of the image header: magic, vendor id,
	// product id, version and revision.
	HeaderSize = 4 + 4*4

	// ItemSize is the size of the data of one entry.
	ItemSize = 64

	// EntrySize is the size of one entry: index, data and CRC32.
	EntrySize = 4 + ItemSize + 4
)

// ErrNoTable is returned when a file holds no version 0x00010000 table.
var ErrNoTable = errors.New("no matching configuration table")

// Tag is the data type of an NCT item.
type Tag uint32

const (
	Tag1BSingle  Tag = 0x10
	Tag2BSingle  Tag = 0x20
	Tag4BSingle  Tag = 0x40
	TagStrSingle Tag = 0x80
	Tag1BArray   Tag = 0x1A
	Tag2BArray   Tag = 0x2A
	Tag4BArray   Tag = 0x4A
	TagStrArray  Tag = 0x8A
)

// Entry is one table entry.
type Entry struct {
	Index    uint32
	Data     [ItemSize]byte
	Checksum uint32
}

// seal recomputes the checksum over index and data.
func (e *Entry) seal() {
	var buf [4 + ItemSize]byte
	binary.LittleEndian.PutUint32(buf[:4], e.Index)
	copy(buf[4:], e.Data[:])
	e.Checksum = crc32.ChecksumIEEE(buf[:])
}

// Table is a parsed configuration table.
type Table struct {
	VendorID  uint32
	ProductID uint32
	Version   uint32
	Revision  uint32

	// Offset is where the entries start in the image
	Offset uint32

	// Entries holds Revision+1 entries, indexed by entry index
	Entries []Entry
}

// Parse reads the NCT file at path.
func Parse(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader reads an NCT description from r.
func ParseReader(r io.Reader) (*Table, error) {
	b := &builder{}
	_, err := cfgparse.ParseReader(r, b.section, cfgparse.WithCaseSensitive(true))
	if b.err != nil {
		return nil, b.err
	}
	if err != nil {
		return nil, err
	}
	if !b.found {
		return nil, ErrNoTable
	}
	if b.table.Entries == nil {
		return nil, errors.New("configuration table has no offset section")
	}
	return &b.table, nil
}

// Size returns the length of the image.
func (t *Table) Size() int {
	return int(t.Offset) + len(t.Entries)*EntrySize
}

// MarshalBinary encodes the partition image: the header at the start, the
// entries at Offset, zeros between.
func (t *Table) MarshalBinary() ([]byte, error) {
	if len(t.Entries) > 0 && t.Offset < HeaderSize {
		return nil, fmt.Errorf("entry offset 0x%x overlaps the %d byte header", t.Offset, HeaderSize)
	}
	buf := make([]byte, t.Size())
	copy(buf, Magic)
	binary.LittleEndian.PutUint32(buf[4:], t.VendorID)
	binary.LittleEndian.PutUint32(buf[8:], t.ProductID)
	binary.LittleEndian.PutUint32(buf[12:], t.Version)
	binary.LittleEndian.PutUint32(buf[16:], t.Revision)

	off := int(t.Offset)
	for _, e := range t.Entries {
		binary.LittleEndian.PutUint32(buf[off:], e.Index)
		copy(buf[off+4:], e.Data[:])
		binary.LittleEndian.PutUint32(buf[off+4+ItemSize:], e.Checksum)
		off += EntrySize
	}
	return buf, nil
}

// builder accumulates a Table across parser callbacks.
type builder struct {
	table Table
	found bool
	err   error

	cur   *Entry
	tag   Tag
	array int
}

func (b *builder) fail(format string, args ...interface{}) cfgparse.Status {
	b.err = fmt.Errorf(format, args...)
	return cfgparse.Error
}

func (b *builder) section(rec cfgparse.Record) cfgparse.Status {
	if _, ok := rec.Get("version"); ok && b.found {
		// The next table header ends this table.
		return cfgparse.Stop
	}
	for _, p := range rec {
		switch p.Key {
		case "vid", "pid", "revision", "version":
			n, err := parseUint32(p.Value)
			if err != nil {
				return b.fail("%s: %w", p.Key, err)
			}
			switch p.Key {
			case "vid":
				b.table.VendorID = n
			case "pid":
				b.table.ProductID = n
			case "revision":
				b.table.Revision = n
			case "version":
				b.table.Version = n
				b.found = n == FormatVersion
			}
		case "name":
			b.array = 0
		case "offset", "idx", "tag", "data":
			if !b.found {
				// Entries of a table we do not understand.
				return cfgparse.Continue
			}
			if err := b.entryKey(p); err != nil {
				return b.fail("%s: %w", p.Key, err)
			}
		default:
			return b.fail("invalid token in configuration table: %s", p.Key)
		}
	}
	return cfgparse.Continue
}

func (b *builder) entryKey(p cfgparse.Pair) error {
	if p.Key == "data" {
		return b.data(p.Value)
	}

	n, err := parseUint32(p.Value)
	if err != nil {
		return err
	}
	switch p.Key {
	case "offset":
		b.table.Offset = n
		b.table.Entries = make([]Entry, b.table.Revision+1)
		b.cur = &b.table.Entries[0]
	case "idx":
		if b.table.Entries == nil {
			return errors.New("entry before offset section")
		}
		if int(n) >= len(b.table.Entries) {
			return fmt.Errorf("index %d beyond revision %d", n, b.table.Revision)
		}
		b.cur = &b.table.Entries[n]
		b.cur.Index = n
	case "tag":
		b.tag = Tag(n)
	}
	return nil
}

func (b *builder) data(value string) error {
	if b.cur == nil {
		return errors.New("entry before offset section")
	}
	if err := putItem(b.cur.Data[:], b.tag, b.array, value); err != nil {
		return err
	}
	switch b.tag {
	case Tag1BArray, Tag2BArray, Tag4BArray:
		b.array++
	}
	b.cur.seal()
	return nil
}

// EncodeItem encodes value as a single item of type tag, as sent by
// WriteNctItem.
func EncodeItem(tag Tag, value string) ([]byte, error) {
	buf := make([]byte, ItemSize)
	if tag == Tag1BArray || tag == Tag2BArray || tag == Tag4BArray {
		for i, v := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
			if err := putItem(buf, tag, i, v); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	if err := putItem(buf, tag, 0, value); err != nil {
		return nil, err
	}
	return buf, nil
}

// FormatItem renders an item read back with ReadNctItem.
func FormatItem(tag Tag, data []byte) string {
	item := make([]byte, ItemSize)
	copy(item, data)
	switch tag {
	case Tag1BSingle:
		return strconv.Itoa(int(item[0]))
	case Tag2BSingle:
		return fmt.Sprintf("0x%x", binary.LittleEndian.Uint16(item))
	case Tag4BSingle:
		return fmt.Sprintf("0x%x", binary.LittleEndian.Uint32(item))
	case TagStrSingle:
		if i := strings.IndexByte(string(item), 0); i >= 0 {
			return string(item[:i])
		}
		return string(item)
	}
	return fmt.Sprintf("% x", data)
}

// putItem stores value into item according to tag. For array tags, i is the
// element index.
func putItem(item []byte, tag Tag, i int, value string) error {
	width := 0
	switch tag {
	case Tag1BSingle, Tag1BArray:
		width = 1
	case Tag2BSingle, Tag2BArray:
		width = 2
	case Tag4BSingle, Tag4BArray:
		width = 4
	case TagStrSingle:
		if len(value) >= ItemSize {
			return fmt.Errorf("string %q longer than %d bytes", value, ItemSize-1)
		}
		copy(item, value)
		return nil
	case TagStrArray:
		return nil
	default:
		return fmt.Errorf("unknown tag 0x%x", uint32(tag))
	}

	switch tag {
	case Tag1BSingle, Tag2BSingle, Tag4BSingle:
		i = 0
	}
	off := i * width
	if off+width > len(item) {
		return fmt.Errorf("array element %d does not fit in %d bytes", i, len(item))
	}
	n, err := strconv.ParseUint(strings.TrimSpace(value), 0, 64)
	if err != nil {
		return err
	}
	switch width {
	case 1:
		item[off] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(item[off:], uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(item[off:], uint32(n))
	}
	return nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	return uint32(n), err
}
