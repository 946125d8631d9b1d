package nct

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `# old format, ignored
<vid:0x1; pid:0x2; revision:0; version:0x00000001>
<offset:0x100>
<name:ignored; idx:0; tag:0x10; data:9>

<vid:0x955; pid:0x7030; revision:3; version:0x00010000>
<offset:0x40>
<name:SerialNo; idx:0; tag:0x80; data:SN0421612>
<name:wifi; idx:1; tag:0x1A; data:0x00; data:0x04; data:0x4b>
<name:cm_id; idx:2; tag:0x20; data:0x1234>
<name:factory; idx:3; tag:0x40; data:0xdeadbeef>

<vid:0x1; pid:0x2; revision:0; version:0x00010000>
`

func TestParseReader(t *testing.T) {
	tbl, err := ParseReader(strings.NewReader(sampleTable))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x955), tbl.VendorID)
	assert.Equal(t, uint32(0x7030), tbl.ProductID)
	assert.Equal(t, uint32(FormatVersion), tbl.Version)
	assert.Equal(t, uint32(3), tbl.Revision, "a second header ends the table")
	assert.Equal(t, uint32(0x40), tbl.Offset)
	require.Len(t, tbl.Entries, 4)

	assert.Equal(t, "SN0421612", FormatItem(TagStrSingle, tbl.Entries[0].Data[:]), "values keep their case")
	assert.Equal(t, []byte{0x00, 0x04, 0x4b, 0x00}, tbl.Entries[1].Data[:4])
	assert.Equal(t, "0x1234", FormatItem(Tag2BSingle, tbl.Entries[2].Data[:]))
	assert.Equal(t, "0xdeadbeef", FormatItem(Tag4BSingle, tbl.Entries[3].Data[:]))

	for i, e := range tbl.Entries {
		var buf [4 + ItemSize]byte
		binary.LittleEndian.PutUint32(buf[:4], e.Index)
		copy(buf[4:], e.Data[:])
		assert.Equal(t, crc32.ChecksumIEEE(buf[:]), e.Checksum, "checksum of entry %d", i)
		assert.Equal(t, uint32(i), e.Index)
	}
}

func TestMarshalBinary(t *testing.T) {
	tbl, err := ParseReader(strings.NewReader(sampleTable))
	require.NoError(t, err)

	img, err := tbl.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, img, 0x40+4*EntrySize)
	assert.Equal(t, tbl.Size(), len(img))

	assert.Equal(t, Magic, string(img[:4]))
	assert.Equal(t, uint32(0x955), binary.LittleEndian.Uint32(img[4:]))
	assert.Equal(t, uint32(0x7030), binary.LittleEndian.Uint32(img[8:]))
	assert.Equal(t, uint32(FormatVersion), binary.LittleEndian.Uint32(img[12:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(img[16:]))
	assert.Equal(t, make([]byte, 0x40-HeaderSize), img[HeaderSize:0x40])

	second := 0x40 + EntrySize
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(img[second:]))
	assert.Equal(t, byte(0x4b), img[second+4+2])
	assert.Equal(t, tbl.Entries[1].Checksum, binary.LittleEndian.Uint32(img[second+4+ItemSize:]))

	tbl.Offset = 8
	_, err = tbl.MarshalBinary()
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		target error
		errMsg string
	}{
		{
			name:   "no matching version",
			input:  "<vid:1; pid:2; revision:0; version:0x2><offset:0x40>",
			target: ErrNoTable,
		},
		{
			name:   "no offset",
			input:  "<vid:1; pid:2; revision:0; version:0x00010000>",
			errMsg: "no offset",
		},
		{
			name:   "unknown key",
			input:  "<vid:1; colour:red>",
			errMsg: "invalid token",
		},
		{
			name:   "index past revision",
			input:  "<revision:1; version:0x00010000><offset:0x40><idx:2; tag:0x10; data:1>",
			errMsg: "beyond revision",
		},
		{
			name:   "string too long",
			input:  "<revision:0; version:0x00010000><offset:0x40><idx:0; tag:0x80; data:" + strings.Repeat("x", ItemSize) + ">",
			errMsg: "longer than",
		},
		{
			name:   "unknown tag",
			input:  "<revision:0; version:0x00010000><offset:0x40><idx:0; tag:0x99; data:1>",
			errMsg: "unknown tag",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReader(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nct.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleTable), 0o644))

	tbl, err := Parse(path)
	require.NoError(t, err)
	assert.Len(t, tbl.Entries, 4)

	_, err = Parse(path + ".missing")
	assert.Error(t, err)
}

func TestEncodeItem(t *testing.T) {
	buf, err := EncodeItem(Tag2BSingle, "0x1234")
	require.NoError(t, err)
	require.Len(t, buf, ItemSize)
	assert.Equal(t, []byte{0x34, 0x12}, buf[:2])

	buf, err = EncodeItem(Tag1BArray, "0x00,0x04, 0x4b")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x04, 0x4b}, buf[:3])

	buf, err = EncodeItem(TagStrSingle, "serial")
	require.NoError(t, err)
	assert.Equal(t, "serial", FormatItem(TagStrSingle, buf))

	_, err = EncodeItem(Tag4BSingle, "nope")
	assert.Error(t, err)
}
