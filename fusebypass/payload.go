package fusebypass

import (
	"encoding/binary"
)

// ProductionModeFuse is the offset of the production-mode fuse. It is always
// bypassed last.
const ProductionModeFuse = 0x100

// PayloadSize is the size of the fuse-bypass partition payload.
//
// The payload is little-endian:
//
//	sku                          u32
//	cpu speedo 0..2 min,max      6 x u32
//	cpu iddq min,max             2 x u32
//	soc speedo 0..2 min,max      6 x u32
//	soc iddq min,max             2 x u32
//	force bypass, force download 2 x u32
//	fuse count                   u32
//	fuses (offset, value)        8 x 2 x u32, unused slots zero
const PayloadSize = 4 * (1 + 16 + 2 + 1 + 2*MaxFuses)

// MarshalBinary encodes the entry as the fuse-bypass partition payload.
func (info Info) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, PayloadSize)
	put := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	putRange := func(r Range) { put(r.Min); put(r.Max) }

	put(info.SkuID)
	for _, r := range info.CpuSpeedo {
		putRange(r)
	}
	putRange(info.CpuIddq)
	for _, r := range info.SocSpeedo {
		putRange(r)
	}
	putRange(info.SocIddq)
	put(boolWord(info.ForceBypass))
	put(boolWord(info.ForceDownload))

	fuses := info.OrderedFuses()
	put(uint32(len(fuses)))
	for i := 0; i < MaxFuses; i++ {
		if i < len(fuses) {
			put(fuses[i].Offset)
			put(fuses[i].Value)
			continue
		}
		put(0)
		put(0)
	}
	return buf, nil
}

// OrderedFuses returns the fuses in write order: as configured, with the
// production-mode fuse moved to the end.
func (info Info) OrderedFuses() []Fuse {
	out := make([]Fuse, 0, len(info.Fuses))
	var prod *Fuse
	for i := range info.Fuses {
		if info.Fuses[i].Offset == ProductionModeFuse {
			f := info.Fuses[i]
			prod = &f
			continue
		}
		out = append(out, info.Fuses[i])
	}
	if prod != nil {
		out = append(out, *prod)
	}
	if len(out) > MaxFuses {
		out = out[:MaxFuses]
	}
	return out
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
