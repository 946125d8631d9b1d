package fusebypass

import (
	"fmt"
	"strings"

	"github.com/moffa90/go-nvflash/protocol"
)

// AlreadyFusedError indicates that the chip SKU fuse is already burned.
type AlreadyFusedError struct {
	Sku  uint32
	Name string
}

func (e *AlreadyFusedError) Error() string {
	return fmt.Sprintf("SKU_INFO is already fused with %s: 0x%02x", e.Name, e.Sku)
}

// NoSupportedSkuError indicates that the policy lists no supported SKU for
// the board in auto mode.
type NoSupportedSkuError struct {
	Board uint32
}

func (e *NoSupportedSkuError) Error() string {
	return fmt.Sprintf("board %d does not support any skus", e.Board)
}

// SkuNotFoundError indicates that the requested SKU is unknown or has no
// bypass entry in the policy.
type SkuNotFoundError struct {
	Target string
	Sku    uint32
	Board  uint32
}

func (e *SkuNotFoundError) Error() string {
	if e.Sku == 0 {
		return fmt.Sprintf("unsupported SKU: %s", e.Target)
	}
	return fmt.Sprintf("sku 0x%02x for board %d is not present in the policy", e.Sku, e.Board)
}

// RangeError indicates that the board measurements fail the limits of the
// SKU, or of every supported SKU when Sku is zero.
type RangeError struct {
	Sku     uint32
	Board   uint32
	Details protocol.BoardDetails
}

func (e *RangeError) Error() string {
	var b strings.Builder
	if e.Sku == 0 {
		b.WriteString("board is not capable of any skus")
	} else {
		fmt.Fprintf(&b, "board %d does not meet the speedo/iddq requirements of SKU 0x%02x", e.Board, e.Sku)
	}
	b.WriteString("\n")
	b.WriteString(e.Dump())
	return b.String()
}

// Dump formats the measurements the limits were checked against.
func (e *RangeError) Dump() string {
	d := e.Details
	return fmt.Sprintf("CPU SPEEDO : %d, %d, %d\nCPU IDDQ   : %d\nSOC SPEEDO : %d, %d, %d\nSOC IDDQ   : %d",
		d.CpuSpeedo[0], d.CpuSpeedo[1], d.CpuSpeedo[2], d.CpuIddq,
		d.SocSpeedo[0], d.SocSpeedo[1], d.SocSpeedo[2], d.SocIddq)
}
