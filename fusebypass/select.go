package fusebypass

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moffa90/go-nvflash/protocol"
)

// AutoSku selects the first supported SKU the board qualifies for.
const AutoSku = "auto"

// Request is what the operator asked for.
type Request struct {
	// Target is a SKU name, a number, or AutoSku. Empty or zero disables
	// bypass.
	Target string

	// PolicyFile is the policy to parse; DefaultPolicyFile when empty
	PolicyFile string

	// Force bypasses even when the board fails the SKU limits
	Force bool

	// ForceDownload bypasses on production parts and on parts whose SKU
	// fuse is already burned
	ForceDownload bool
}

// Board is the device state selection runs against.
type Board struct {
	Platform protocol.PlatformInfo
	Details  protocol.BoardDetails
}

func (b Board) number() uint32 { return b.Platform.BoardID.BoardNo }
func (b Board) subSku() uint32 { return b.Platform.BoardID.SkuType }

// Decision is the outcome of a successful selection.
type Decision struct {
	// Applied is false when bypass does not apply to this request or board.
	// That is not an error.
	Applied bool

	// Reason explains why bypass was not applied
	Reason string

	// Info is the selected entry when Applied
	Info Info

	// Warning is set when Force overrode a failed limit check
	Warning string
}

// Select decides which SKU to bypass the board to. The policy file is only
// read once the request and board qualify.
func Select(req Request, board Board) (Decision, error) {
	if d, done := preflight(req, board); done {
		return d, nil
	}

	path := req.PolicyFile
	if path == "" {
		path = DefaultPolicyFile
	}
	p, err := ParsePolicy(path)
	if err != nil {
		return Decision{}, fmt.Errorf("fuse bypass policy %s: %w", path, err)
	}
	return p.Select(req, board)
}

// Select decides which SKU to bypass the board to using p.
func (p *Policy) Select(req Request, board Board) (Decision, error) {
	if d, done := preflight(req, board); done {
		return d, nil
	}

	if board.Details.ChipSku != 0 && !req.ForceDownload {
		return Decision{}, &AlreadyFusedError{Sku: board.Details.ChipSku, Name: p.SkuName(board.Details.ChipSku)}
	}

	var (
		info   *Info
		target uint32
	)

	if strings.EqualFold(strings.TrimSpace(req.Target), AutoSku) {
		supported := p.SupportedSkus(board.number(), board.subSku())
		if len(supported) == 0 {
			return Decision{}, &NoSupportedSkuError{Board: board.number()}
		}
		for _, sku := range supported {
			if cand, ok := p.Lookup(sku); ok && Passes(cand, board.Details) {
				info = cand
				break
			}
		}
		if info == nil {
			if !req.Force {
				return Decision{}, &RangeError{Board: board.number(), Details: board.Details}
			}
			target = p.DefaultSku(board.number(), board.subSku())
			if target == 0 {
				return Decision{Reason: fmt.Sprintf("board %d has no default sku", board.number())}, nil
			}
		}
	} else {
		target = p.ResolveSku(req.Target)
		if target == 0 {
			return Decision{}, &SkuNotFoundError{Target: req.Target}
		}
	}

	var d Decision
	if info == nil {
		cand, ok := p.Lookup(target)
		if !ok {
			return Decision{}, &SkuNotFoundError{Target: req.Target, Sku: target, Board: board.number()}
		}
		if !Passes(cand, board.Details) {
			if !req.Force {
				return Decision{}, &RangeError{Sku: target, Board: board.number(), Details: board.Details}
			}
			d.Warning = fmt.Sprintf("board %d does not meet the speedo/iddq requirements of SKU 0x%02x",
				board.number(), target)
		}
		info = cand
	}

	d.Applied = true
	d.Info = *info
	d.Info.Fuses = append([]Fuse(nil), info.Fuses...)
	d.Info.ForceBypass = req.Force
	d.Info.ForceDownload = req.ForceDownload
	return d, nil
}

// preflight handles the requests that never need a policy: no target, a zero
// target, and boards that are not pre-production.
func preflight(req Request, board Board) (Decision, bool) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return Decision{Reason: "no target sku"}, true
	}
	if n, err := strconv.ParseUint(target, 0, 32); err == nil && n == 0 {
		return Decision{Reason: "target sku is zero"}, true
	}
	if board.Platform.OperatingMode != protocol.OperatingModePreproduction && !req.ForceDownload {
		return Decision{Reason: "device is not a pre-production device, skipping sku bypass"}, true
	}
	return Decision{}, false
}

// PassesRange reports whether v is inside r. An unconstrained range passes
// every value.
func PassesRange(r Range, v uint32) bool {
	if r.Min == 0 && r.Max == 0 {
		return true
	}
	return r.Min <= v && v <= r.Max
}

// Passes reports whether every measurement of the board is inside the limits
// of info.
func Passes(info *Info, d protocol.BoardDetails) bool {
	for i := range d.CpuSpeedo {
		if !PassesRange(info.CpuSpeedo[i], d.CpuSpeedo[i]) {
			return false
		}
	}
	for i := range d.SocSpeedo {
		if !PassesRange(info.SocSpeedo[i], d.SocSpeedo[i]) {
			return false
		}
	}
	return PassesRange(info.CpuIddq, d.CpuIddq) && PassesRange(info.SocIddq, d.SocIddq)
}
