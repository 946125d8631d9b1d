package flash

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/moffa90/go-nvflash/cfgparse"
	"github.com/moffa90/go-nvflash/protocol"
)

// fuseParser accumulates the entries of a fuse file.
//
// Each entry of the payload is the fuse name NUL-padded to
// protocol.MaxStringLength bytes, the value length as u32 LE, then the value.
// A value that fits in 32 bits is sent as a u32 LE; a longer hex value is
// sent as the bytes written.
type fuseParser struct {
	payload []byte
	count   int
	err     error
}

func (fp *fuseParser) fail(format string, args ...interface{}) cfgparse.Status {
	fp.err = fmt.Errorf(format, args...)
	return cfgparse.Error
}

func (fp *fuseParser) section(rec cfgparse.Record) cfgparse.Status {
	for _, p := range rec {
		if p.Key == "" || len(p.Key) >= protocol.MaxStringLength {
			return fp.fail("invalid fuse name %q", p.Key)
		}
		value, err := fuseValue(p.Value)
		if err != nil {
			return fp.fail("fuse %s: %w", p.Key, err)
		}

		var name [protocol.MaxStringLength]byte
		copy(name[:], p.Key)
		fp.payload = append(fp.payload, name[:]...)
		fp.payload = binary.LittleEndian.AppendUint32(fp.payload, uint32(len(value)))
		fp.payload = append(fp.payload, value...)
		fp.count++
	}
	return cfgparse.Continue
}

func fuseValue(s string) ([]byte, error) {
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return binary.LittleEndian.AppendUint32(nil, uint32(n)), nil
	}
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	if len(digits)%2 != 0 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	return b, nil
}

// parseFuseFile builds the FuseWrite payload from a file of <name:value>
// sections.
func parseFuseFile(path string) ([]byte, error) {
	fp := &fuseParser{}
	_, err := cfgparse.Parse(path, fp.section)
	if fp.err != nil {
		return nil, fp.err
	}
	if err != nil {
		return nil, err
	}
	if fp.count == 0 {
		return nil, errors.New("fuse file describes no fuse")
	}
	return fp.payload, nil
}
