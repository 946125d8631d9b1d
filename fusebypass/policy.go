package fusebypass

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/moffa90/go-nvflash/cfgparse"
)

const (
	// MaxSkus is the number of SKU entries a policy may hold.
	MaxSkus = 20

	// MaxFuses is the number of fuses a single SKU may bypass.
	MaxFuses = 8

	// DefaultPolicyFile is used when no policy file is configured.
	DefaultPolicyFile = "fuse_bypass.txt"
)

// Range is an inclusive measurement range. The zero Range is unconstrained.
type Range struct {
	Min uint32
	Max uint32
}

// Fuse is one fuse offset and the value it is bypassed with.
type Fuse struct {
	Offset uint32
	Value  uint32
}

// Info is the bypass entry of one SKU.
type Info struct {
	// SkuID is the numeric SKU this entry bypasses to
	SkuID uint32

	CpuSpeedo [3]Range
	CpuIddq   Range
	SocSpeedo [3]Range
	SocIddq   Range

	// Fuses are written in order, except the production-mode fuse which
	// always goes last
	Fuses []Fuse

	// ForceBypass and ForceDownload are copied from the request that selected
	// this entry and travel with the payload
	ForceBypass   bool
	ForceDownload bool
}

// BoardSkus scopes a SKU list to a board and, optionally, some of its
// sub-SKUs.
type BoardSkus struct {
	// Board is the board number; AnyBoard entries match every board
	Board    uint32
	AnyBoard bool

	// BoardSkus restricts the entry to these board sub-SKUs; empty matches all
	BoardSkus []uint32

	// Skus is the supported list, in preference order
	Skus []uint32

	// Default is the fallback SKU of a default entry
	Default uint32
}

// Matches reports whether the entry applies to board and sub-SKU.
func (b BoardSkus) Matches(board, sku uint32) bool {
	if !b.AnyBoard && b.Board != board {
		return false
	}
	if len(b.BoardSkus) == 0 {
		return true
	}
	for _, s := range b.BoardSkus {
		if s == sku {
			return true
		}
	}
	return false
}

// Policy is a parsed fuse-bypass policy file.
type Policy struct {
	// Names maps lowercase SKU names to ids
	Names map[string]uint32

	Defaults  []BoardSkus
	Supported []BoardSkus
	Infos     []Info
}

// ParsePolicy reads the policy file at path.
//
// A policy file names SKUs, lists the default and supported SKUs per board
// and gives each SKU its measurement limits and fuses:
//
//	<sku name:sku id; t40:0x8; t50:0x9>
//	<policy:default skus>
//	<board:1780; board sku:1000,1001; default sku:0x8>
//	</policy:default skus>
//	<policy:supported skus>
//	<board:1780; skus:0x9,0x8>
//	</policy:supported skus>
//	<sku:0x8; cpu_speedo_min:1800,0,0; cpu_speedo_max:2300,0,0; fuse; offset:0x100; value:0x1>
func ParsePolicy(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParsePolicyReader(f)
}

// ParsePolicyReader reads a policy from r. Keys and SKU names are matched
// without regard to case.
func ParsePolicyReader(r io.Reader) (*Policy, error) {
	pp := &policyParser{policy: &Policy{Names: make(map[string]uint32)}}
	_, err := cfgparse.ParseReader(r, pp.section)
	if pp.err != nil {
		return nil, pp.err
	}
	if err != nil {
		return nil, err
	}
	return pp.policy, nil
}

// Lookup returns the bypass entry for sku.
func (p *Policy) Lookup(sku uint32) (*Info, bool) {
	for i := range p.Infos {
		if p.Infos[i].SkuID == sku {
			return &p.Infos[i], true
		}
	}
	return nil, false
}

// ResolveSku turns a SKU name or number into an id. Zero means unknown.
func (p *Policy) ResolveSku(s string) uint32 {
	if id, ok := p.Names[strings.ToLower(strings.TrimSpace(s))]; ok {
		return id
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// SkuName returns the name of sku, or "Unknown SKU".
func (p *Policy) SkuName(sku uint32) string {
	found := ""
	for name, id := range p.Names {
		if id == sku && (found == "" || name < found) {
			found = name
		}
	}
	if found == "" {
		return "Unknown SKU"
	}
	return found
}

// DefaultSku returns the default SKU of the first entry matching the board.
func (p *Policy) DefaultSku(board, sku uint32) uint32 {
	for _, d := range p.Defaults {
		if d.Matches(board, sku) {
			return d.Default
		}
	}
	return 0
}

// SupportedSkus returns the supported list of the first entry matching the
// board.
func (p *Policy) SupportedSkus(board, sku uint32) []uint32 {
	for _, s := range p.Supported {
		if s.Matches(board, sku) {
			return s.Skus
		}
	}
	return nil
}

// policyParser accumulates a Policy across parser callbacks. While inside a
// <policy:...> block, sub routes sections to the block's handler.
type policyParser struct {
	policy *Policy
	sub    func(cfgparse.Record) cfgparse.Status
	err    error
}

func (pp *policyParser) fail(format string, args ...interface{}) cfgparse.Status {
	pp.err = fmt.Errorf(format, args...)
	return cfgparse.Error
}

func (pp *policyParser) section(rec cfgparse.Record) cfgparse.Status {
	if len(rec) == 0 {
		return cfgparse.Continue
	}
	if pp.sub != nil {
		return pp.sub(rec)
	}

	first := rec[0]
	switch {
	case first.Key == "sku name":
		if first.Value != "sku id" {
			return pp.fail("invalid token %q", first.Value)
		}
		for _, p := range rec[1:] {
			id, err := parseUint32(p.Value)
			if err != nil {
				return pp.fail("sku name %q: %w", p.Key, err)
			}
			pp.policy.Names[p.Key] = id
		}
		return cfgparse.Continue
	case first.Key == "policy":
		switch first.Value {
		case "default skus":
			pp.sub = pp.boardBlock("default skus", "default sku", &pp.policy.Defaults)
		case "supported skus":
			pp.sub = pp.boardBlock("supported skus", "skus", &pp.policy.Supported)
		default:
			return pp.fail("invalid sku fuse bypass policy %q", first.Value)
		}
		return cfgparse.Continue
	}
	return pp.sku(rec)
}

// boardBlock returns the handler for the sections of a <policy:name> block.
// listKey is the key carrying the block's payload.
func (pp *policyParser) boardBlock(name, listKey string, out *[]BoardSkus) func(cfgparse.Record) cfgparse.Status {
	return func(rec cfgparse.Record) cfgparse.Status {
		if rec[0].Key == "/policy" && rec[0].Value == name {
			pp.sub = nil
			return cfgparse.Continue
		}

		entry := BoardSkus{AnyBoard: true}
		for _, p := range rec {
			var err error
			switch p.Key {
			case "board":
				entry.Board, err = parseUint32(p.Value)
				entry.AnyBoard = false
			case "board sku":
				entry.BoardSkus, err = parseList(p.Value)
			case listKey:
				if listKey == "skus" {
					entry.Skus, err = parseList(p.Value)
					if len(entry.Skus) > MaxSkus {
						entry.Skus = entry.Skus[:MaxSkus]
					}
				} else {
					entry.Default, err = parseUint32(p.Value)
				}
			default:
				return pp.fail("%s: unknown token %q", name, p.Key)
			}
			if err != nil {
				return pp.fail("%s: %s: %w", name, p.Key, err)
			}
		}
		*out = append(*out, entry)
		return cfgparse.Continue
	}
}

// sku handles a <sku:ID; ...> section. Limits, fuses and values that follow
// the sku key apply to that SKU.
func (pp *policyParser) sku(rec cfgparse.Record) cfgparse.Status {
	var cur *Info
	curFuse := -1

	for _, p := range rec {
		if p.Key == "sku" {
			if len(pp.policy.Infos) >= MaxSkus {
				return pp.fail("more than %d skus", MaxSkus)
			}
			id, err := parseUint32(p.Value)
			if err != nil || id == 0 {
				return pp.fail("unknown sku %q", p.Value)
			}
			pp.policy.Infos = append(pp.policy.Infos, Info{SkuID: id})
			cur = &pp.policy.Infos[len(pp.policy.Infos)-1]
			curFuse = -1
			continue
		}
		if cur == nil {
			if n := len(pp.policy.Infos); n > 0 {
				cur = &pp.policy.Infos[n-1]
			} else {
				return pp.fail("%q before any sku", p.Key)
			}
		}

		var err error
		switch {
		case strings.HasPrefix(p.Key, "cpu_speedo_min"):
			err = fillRanges(cur.CpuSpeedo[:], p, true)
		case strings.HasPrefix(p.Key, "cpu_speedo_max"):
			err = fillRanges(cur.CpuSpeedo[:], p, false)
		case strings.HasPrefix(p.Key, "cpu_iddq_min"):
			cur.CpuIddq, err = fillOne(cur.CpuIddq, p, true)
		case strings.HasPrefix(p.Key, "cpu_iddq_max"):
			cur.CpuIddq, err = fillOne(cur.CpuIddq, p, false)
		case strings.HasPrefix(p.Key, "soc_speedo_min"):
			err = fillRanges(cur.SocSpeedo[:], p, true)
		case strings.HasPrefix(p.Key, "soc_speedo_max"):
			err = fillRanges(cur.SocSpeedo[:], p, false)
		case strings.HasPrefix(p.Key, "soc_iddq_min"):
			cur.SocIddq, err = fillOne(cur.SocIddq, p, true)
		case strings.HasPrefix(p.Key, "soc_iddq_max"):
			cur.SocIddq, err = fillOne(cur.SocIddq, p, false)
		case strings.HasPrefix(p.Key, "fuse"):
			if len(cur.Fuses) >= MaxFuses {
				return pp.fail("sku 0x%02x: more than %d fuses", cur.SkuID, MaxFuses)
			}
			cur.Fuses = append(cur.Fuses, Fuse{})
			curFuse = len(cur.Fuses) - 1
		case p.Key == "offset" || p.Key == "value":
			if curFuse < 0 {
				return pp.fail("sku 0x%02x: fuse token is missing before %q", cur.SkuID, p.Key)
			}
			var n uint32
			n, err = parseUint32(p.Value)
			if p.Key == "offset" {
				cur.Fuses[curFuse].Offset = n
			} else {
				cur.Fuses[curFuse].Value = n
			}
		default:
			return pp.fail("unknown token %q", p.Key)
		}
		if err != nil {
			return pp.fail("sku 0x%02x: %s: %w", cur.SkuID, p.Key, err)
		}
	}
	return cfgparse.Continue
}

// startIndex reads the channel a limit key starts at: "cpu_speedo_min2"
// starts at the second channel, a key with no digit at the first.
func startIndex(key string) int {
	last := key[len(key)-1]
	if last < '1' || last > '9' {
		return 0
	}
	return int(last-'0') - 1
}

// fillRanges stores the comma separated values of p into the Min or Max of
// consecutive ranges, starting at the channel the key names. Values past the
// last channel are ignored.
func fillRanges(ranges []Range, p cfgparse.Pair, min bool) error {
	vals, err := parseList(p.Value)
	if err != nil {
		return err
	}
	for i, j := startIndex(p.Key), 0; i < len(ranges) && j < len(vals); i, j = i+1, j+1 {
		if min {
			ranges[i].Min = vals[j]
		} else {
			ranges[i].Max = vals[j]
		}
	}
	return nil
}

func fillOne(r Range, p cfgparse.Pair, min bool) (Range, error) {
	rs := []Range{r}
	err := fillRanges(rs, p, min)
	return rs[0], err
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	return uint32(n), err
}

// parseList parses a list of numbers separated by commas or spaces.
func parseList(s string) ([]uint32, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]uint32, 0, len(fields))
	for _, f := range fields {
		n, err := parseUint32(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
