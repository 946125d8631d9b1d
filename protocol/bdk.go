package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxBdkField bounds a single result field so a corrupt stream cannot make
// the reader allocate without limit.
const maxBdkField = 1 << 16

// AppendBdkResult appends the encoding of r to buf: five fields, each a
// little-endian u32 length followed by that many bytes.
func AppendBdkResult(buf []byte, r BdkResult) []byte {
	for _, f := range []string{r.Suite, r.Test, r.Status, r.Elapsed, r.Message} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

// ReadBdkResult decodes one result written by AppendBdkResult.
func ReadBdkResult(r io.Reader) (BdkResult, error) {
	var fields [5]string
	for i := range fields {
		var n [4]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return BdkResult{}, fmt.Errorf("bdk result field %d length: %w", i, err)
		}
		size := binary.LittleEndian.Uint32(n[:])
		if size > maxBdkField {
			return BdkResult{}, fmt.Errorf("bdk result field %d too long: %d bytes", i, size)
		}
		b := make([]byte, size)
		if _, err := io.ReadFull(r, b); err != nil {
			return BdkResult{}, fmt.Errorf("bdk result field %d: %w", i, err)
		}
		fields[i] = string(b)
	}
	return BdkResult{
		Suite:   fields[0],
		Test:    fields[1],
		Status:  fields[2],
		Elapsed: fields[3],
		Message: fields[4],
	}, nil
}

// Passed reports whether the device marked the test as passing.
func (r BdkResult) Passed() bool {
	return r.Status == "pass"
}
