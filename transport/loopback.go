package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/moffa90/go-nvflash/protocol"
)

// ErrNoReply is returned by Loopback.CommandReceive when the device has
// nothing to send.
var ErrNoReply = errors.New("no reply pending")

// DefaultGeometry is the block geometry a Loopback reports unless
// WithGeometry overrides it: 512-byte sectors, 8 sectors per block, 64 MiB.
var DefaultGeometry = protocol.DevInfo{
	BytesPerSector:  512,
	SectorsPerBlock: 8,
	TotalBlocks:     16384,
}

// Loopback is an in-memory device running a simplified protocol server.
// It keeps a partition table with contents, answers queries from it and can
// be scripted to fail specific commands. It is not safe for concurrent use.
type Loopback struct {
	mode    Mode
	opened  bool
	info    protocol.PlatformInfo
	details protocol.BoardDetails
	geom    protocol.DevInfo

	deleteAllUnsupported bool
	formatAllUnsupported bool

	bct        []byte
	bit        []byte
	bootloader []byte
	fuses      []byte
	odmData    uint32
	bootDev    protocol.DeviceType
	bootPart   uint32
	raw        map[uint32][]byte
	nct        map[uint32][]byte

	device      protocol.SetDevice
	configuring bool
	pending     []*simPartition
	partitions  []*simPartition
	verify      map[uint32]bool
	verified    []uint32

	in       *inbound
	outbound []byte
	replies  []*protocol.Status
	faults   []*fault
	counts   map[protocol.Kind]int
	sent     []protocol.Command
	lastNack protocol.NackCode
}

type simPartition struct {
	create protocol.CreatePartition
	device protocol.SetDevice
	start  uint32
	count  uint32
	data   []byte
}

type inbound struct {
	remaining uint64
	buf       []byte
	done      func([]byte)
}

type fault struct {
	kind    protocol.Kind
	nth     int
	code    protocol.StatusCode
	message string
	nack    protocol.NackCode
	sendErr error
}

// LoopbackOption configures a Loopback.
type LoopbackOption func(*Loopback)

// WithGeometry sets the block geometry reported by GetDevInfo.
func WithGeometry(g protocol.DevInfo) LoopbackOption {
	return func(l *Loopback) {
		l.geom = g
	}
}

// WithPlatformInfo sets the platform snapshot reported by GetPlatformInfo.
func WithPlatformInfo(info protocol.PlatformInfo) LoopbackOption {
	return func(l *Loopback) {
		l.info = info
	}
}

// WithBoardDetails sets the measurements reported by GetBoardDetails.
func WithBoardDetails(d protocol.BoardDetails) LoopbackOption {
	return func(l *Loopback) {
		l.details = d
	}
}

// WithStoredBct sets the BCT the device already holds in storage, as on a
// board flashed earlier.
func WithStoredBct(bct []byte) LoopbackOption {
	return func(l *Loopback) {
		l.bct = append([]byte(nil), bct...)
	}
}

// WithDeleteAllUnsupported makes DeleteAll reply StatusNotSupported.
func WithDeleteAllUnsupported() LoopbackOption {
	return func(l *Loopback) {
		l.deleteAllUnsupported = true
	}
}

// WithFormatAllUnsupported makes FormatAll reply StatusNotSupported.
func WithFormatAllUnsupported() LoopbackOption {
	return func(l *Loopback) {
		l.formatAllUnsupported = true
	}
}

// NewLoopback creates a simulated device.
//
// Example:
//
//	dev := transport.NewLoopback(transport.WithGeometry(protocol.DevInfo{
//	    BytesPerSector: 512, SectorsPerBlock: 1, TotalBlocks: 100000,
//	}))
//	_ = dev.Open(ctx, transport.ModeSimulation, 0)
func NewLoopback(opts ...LoopbackOption) *Loopback {
	l := &Loopback{
		mode: ModeSimulation,
		geom: DefaultGeometry,
		info: protocol.PlatformInfo{
			ChipUID:       protocol.ChipUID{ECID0: 0x1c0ffee, ECID1: 0x2, ECID2: 0x3, ECID3: 0x4},
			ChipID:        protocol.ChipID{ID: 0x40, Major: 1},
			OperatingMode: protocol.OperatingModeOdmProductionOpen,
		},
		raw:    make(map[uint32][]byte),
		nct:    make(map[uint32][]byte),
		verify: make(map[uint32]bool),
		counts: make(map[protocol.Kind]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailStatus makes the nth (1-based) occurrence of kind reply with code and
// message instead of StatusOk.
func (l *Loopback) FailStatus(kind protocol.Kind, nth int, code protocol.StatusCode, message string) {
	l.faults = append(l.faults, &fault{kind: kind, nth: nth, code: code, message: message})
}

// FailNack is like FailStatus and additionally records nack as the last NACK code.
func (l *Loopback) FailNack(kind protocol.Kind, nth int, code protocol.StatusCode, nack protocol.NackCode) {
	l.faults = append(l.faults, &fault{kind: kind, nth: nth, code: code, nack: nack})
}

// FailSend makes the nth occurrence of kind fail at the transport level.
func (l *Loopback) FailSend(kind protocol.Kind, nth int, err error) {
	l.faults = append(l.faults, &fault{kind: kind, nth: nth, sendErr: err})
}

// MovePartition rewrites the placement of an existing partition, simulating
// a device whose layout drifted from the configuration.
func (l *Loopback) MovePartition(name string, start, count uint32) bool {
	for _, p := range l.partitions {
		if p.create.Name == name {
			p.start, p.count = start, count
			return true
		}
	}
	return false
}

// Sent returns every command received so far, in order.
func (l *Loopback) Sent() []protocol.Command {
	return l.sent
}

// Count returns how many commands of kind were received.
func (l *Loopback) Count(kind protocol.Kind) int {
	return l.counts[kind]
}

// PartitionData returns the stored contents of the named partition.
func (l *Loopback) PartitionData(name string) ([]byte, bool) {
	for _, p := range l.partitions {
		if p.create.Name == name {
			return p.data, true
		}
	}
	return nil, false
}

// WritePartitionData stores contents for the named partition directly.
func (l *Loopback) WritePartitionData(name string, data []byte) bool {
	for _, p := range l.partitions {
		if p.create.Name == name {
			p.data = append([]byte(nil), data...)
			return true
		}
	}
	return false
}

// Table returns the partition table as the device would report it.
func (l *Loopback) Table() []protocol.PartitionEntry {
	entries := make([]protocol.PartitionEntry, 0, len(l.partitions))
	bps := uint64(l.geom.BytesPerSector)
	for _, p := range l.partitions {
		entries = append(entries, protocol.PartitionEntry{
			ID:                 p.create.ID,
			Name:               protocol.EntryName(p.create.Name),
			DeviceID:           deviceID(p.device),
			StartLogicalSector: p.start,
			NumLogicalSectors:  p.count,
			BytesPerSector:     l.geom.BytesPerSector,
			StartPhysical:      uint64(p.start) * bps,
			EndPhysical:        uint64(p.start+p.count)*bps - 1,
		})
	}
	return entries
}

// Bct returns the last BCT downloaded.
func (l *Loopback) Bct() []byte { return l.bct }

// Fuses returns the last fuse payload written.
func (l *Loopback) Fuses() []byte { return l.fuses }

// Verified returns ids of partitions verified, in order.
func (l *Loopback) Verified() []uint32 { return l.verified }

// BootPartition returns the id of the partition marked bootable.
func (l *Loopback) BootPartition() uint32 { return l.bootPart }

// SetBit sets the boot information table returned by GetBit.
func (l *Loopback) SetBit(bit []byte) { l.bit = bit }

func (l *Loopback) Open(ctx context.Context, mode Mode, instance uint32) error {
	if mode == ModeDefault {
		mode = ModeUSB
	}
	l.mode = mode
	l.opened = true
	return nil
}

func (l *Loopback) Close() error {
	l.opened = false
	return nil
}

func (l *Loopback) Mode() Mode { return l.mode }

func (l *Loopback) LastNackCode() protocol.NackCode { return l.lastNack }

func (l *Loopback) CommandSend(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.in != nil {
		return fmt.Errorf("%s sent during an unfinished data phase", cmd.Kind())
	}

	kind := cmd.Kind()
	l.counts[kind]++
	n := l.counts[kind]
	l.sent = append(l.sent, cmd)

	for _, f := range l.faults {
		if f.kind == kind && f.nth == n && f.sendErr != nil {
			return f.sendErr
		}
	}

	ok := func() { l.reply(kind, n, protocol.StatusOk, "") }

	switch c := cmd.(type) {
	case *protocol.GetPlatformInfo:
		c.Info = l.info
		ok()
	case *protocol.GetBoardDetails:
		c.Details = l.details
		ok()
	case *protocol.GetDevInfo:
		c.Info = l.geom
		ok()
	case *protocol.GetBct:
		c.Length = uint32(len(l.bct))
		l.outbound = append(l.outbound, l.bct...)
		ok()
	case *protocol.GetBit:
		c.Length = uint32(len(l.bit))
		l.outbound = append(l.outbound, l.bit...)
		ok()
	case *protocol.DownloadBct:
		l.expect(kind, n, uint64(c.Length), func(b []byte) protocol.StatusCode {
			l.bct = b
			return protocol.StatusOk
		})
	case *protocol.SetBlHash:
		l.expect(kind, n, uint64(c.Length), nil)
	case *protocol.DownloadBootloader:
		ok()
		l.in = &inbound{remaining: c.Length, done: func(b []byte) {
			l.bootloader = b
			l.replies = append(l.replies, &protocol.Status{Code: protocol.StatusOk, Message: "bootloader ready"})
		}}
		l.finishIfEmpty()
	case *protocol.OdmOptions:
		l.odmData = c.Options
		ok()
	case *protocol.SetBootDevType:
		l.bootDev = c.DevType
		ok()
	case *protocol.SetBootDevConfig, *protocol.OdmCommand, *protocol.Sync, *protocol.Go,
		*protocol.Reset, *protocol.EndVerifyPartition:
		ok()
	case *protocol.SkipSync:
		// no status
	case *protocol.SetDevice:
		l.device = *c
		ok()
	case *protocol.StartPartitionConfiguration:
		l.configuring = true
		l.pending = nil
		ok()
	case *protocol.DeleteAll:
		if l.deleteAllUnsupported {
			l.reply(kind, n, protocol.StatusNotSupported, "delete all not supported")
			break
		}
		kept := l.partitions[:0]
		for _, p := range l.partitions {
			if p.device != l.device {
				kept = append(kept, p)
			}
		}
		l.partitions = kept
		ok()
	case *protocol.CreatePartition:
		if !l.configuring {
			l.reply(kind, n, protocol.StatusInvalidState, "no partition configuration in progress")
			break
		}
		for _, p := range l.pending {
			if p.create.ID == c.ID {
				l.reply(kind, n, protocol.StatusPartitionCreationFailed, fmt.Sprintf("duplicate partition id %d", c.ID))
				return nil
			}
		}
		l.pending = append(l.pending, &simPartition{create: *c, device: l.device})
		ok()
	case *protocol.EndPartitionConfiguration:
		l.configuring = false
		if err := l.commit(); err != nil {
			l.reply(kind, n, protocol.StatusPartitionCreationFailed, err.Error())
			break
		}
		ok()
	case *protocol.FormatPartition:
		p := l.find(c.ID)
		if p == nil {
			l.reply(kind, n, protocol.StatusInvalidPartition, fmt.Sprintf("no partition %d", c.ID))
			break
		}
		p.data = nil
		ok()
	case *protocol.FormatAll:
		if l.formatAllUnsupported {
			l.reply(kind, n, protocol.StatusNotSupported, "format all not supported")
			break
		}
		for _, p := range l.partitions {
			p.data = nil
		}
		ok()
	case *protocol.Obliterate:
		l.partitions = nil
		ok()
	case *protocol.QueryPartition:
		p := l.find(c.ID)
		if p == nil {
			l.reply(kind, n, protocol.StatusInvalidPartition, fmt.Sprintf("no partition %d", c.ID))
			break
		}
		c.Size = uint64(p.count) * uint64(l.geom.BytesPerSector)
		c.Address = uint64(p.start) * uint64(l.geom.BytesPerSector)
		c.PartType = p.create.Type
		ok()
	case *protocol.DownloadPartition:
		p := l.find(c.ID)
		l.expect(kind, n, c.Length, func(b []byte) protocol.StatusCode {
			if p == nil {
				return protocol.StatusInvalidPartition
			}
			if uint64(len(b)) > uint64(p.count)*uint64(l.geom.BytesPerSector) {
				return protocol.StatusPartitionTooSmall
			}
			p.data = b
			return protocol.StatusOk
		})
	case *protocol.ReadPartition:
		p := l.find(c.ID)
		if p == nil {
			l.reply(kind, n, protocol.StatusInvalidPartition, fmt.Sprintf("no partition %d", c.ID))
			break
		}
		var data []byte
		if c.Offset < uint64(len(p.data)) {
			data = p.data[c.Offset:]
		}
		c.Length = uint64(len(data))
		l.outbound = append(l.outbound, data...)
		ok()
	case *protocol.ReadPartitionTable:
		if len(l.partitions) == 0 {
			l.reply(kind, n, protocol.StatusPartitionTableRequired, "no partition table on device")
			break
		}
		if c.NumLogicalSectors != 0 {
			pt := l.findType(protocol.PartitionTypePartitionTable)
			if pt == nil || pt.start != c.StartLogicalSector || pt.count != c.NumLogicalSectors {
				l.reply(kind, n, protocol.StatusInvalidPartitionTable, "partition table not found at requested location")
				break
			}
		}
		table := protocol.EncodeTable(l.Table())
		c.Length = uint64(len(table))
		l.outbound = append(l.outbound, table...)
		ok()
	case *protocol.RawDeviceRead:
		for s := c.StartSector; s < c.StartSector+c.NumSectors; s++ {
			sector := make([]byte, l.geom.BytesPerSector)
			copy(sector, l.raw[s])
			l.outbound = append(l.outbound, sector...)
		}
		ok()
	case *protocol.RawDeviceWrite:
		start, bps := c.StartSector, l.geom.BytesPerSector
		l.expect(kind, n, uint64(c.NumSectors)*uint64(bps), func(b []byte) protocol.StatusCode {
			for i := uint32(0); i < c.NumSectors; i++ {
				l.raw[start+i] = b[i*bps : (i+1)*bps]
			}
			return protocol.StatusOk
		})
	case *protocol.VerifyPartitionEnable:
		l.verify[c.ID] = true
		ok()
	case *protocol.VerifyPartition:
		if !l.verify[c.ID] {
			l.reply(kind, n, protocol.StatusInvalidState, fmt.Sprintf("partition %d not marked for verification", c.ID))
			break
		}
		l.verified = append(l.verified, c.ID)
		ok()
	case *protocol.SetBootPartition:
		if l.find(c.ID) == nil {
			l.reply(kind, n, protocol.StatusInvalidPartition, fmt.Sprintf("no partition %d", c.ID))
			break
		}
		l.bootPart = c.ID
		ok()
	case *protocol.UpdateBct:
		l.expect(kind, n, uint64(c.Length), func(b []byte) protocol.StatusCode {
			if len(l.bct) == 0 {
				return protocol.StatusBctNotFound
			}
			return protocol.StatusOk
		})
	case *protocol.FuseWrite:
		l.expect(kind, n, uint64(c.Length), func(b []byte) protocol.StatusCode {
			l.fuses = b
			return protocol.StatusOk
		})
	case *protocol.ReadNctItem:
		data, found := l.nct[c.Index]
		if !found {
			l.reply(kind, n, protocol.StatusNctReadFailed, fmt.Sprintf("no nct item %d", c.Index))
			break
		}
		c.Data = append([]byte(nil), data...)
		ok()
	case *protocol.WriteNctItem:
		l.nct[c.Index] = append([]byte(nil), c.Data...)
		ok()
	case *protocol.RunBdkTest:
		c.NumTests = 1
		l.outbound = protocol.AppendBdkResult(l.outbound, protocol.BdkResult{
			Suite: c.Suite, Test: c.Argument, Status: "pass", Elapsed: "1", Message: "ok",
		})
		ok()
	default:
		l.reply(kind, n, protocol.StatusInvalidCommand, fmt.Sprintf("unsupported command %s", kind))
	}
	return nil
}

func (l *Loopback) CommandReceive(ctx context.Context) (protocol.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(l.replies) == 0 {
		return nil, ErrNoReply
	}
	s := l.replies[0]
	l.replies = l.replies[1:]
	return s, nil
}

func (l *Loopback) CommandComplete(ctx context.Context, cmd protocol.Command) error {
	return ctx.Err()
}

func (l *Loopback) DataSend(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.in == nil {
		return errors.New("unexpected data phase")
	}
	if uint64(len(data)) > l.in.remaining {
		return fmt.Errorf("data overrun: %d bytes sent, %d expected", len(data), l.in.remaining)
	}
	l.in.buf = append(l.in.buf, data...)
	l.in.remaining -= uint64(len(data))
	l.finishIfEmpty()
	return nil
}

func (l *Loopback) DataReceive(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(buf) > 0 && len(l.outbound) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, l.outbound)
	l.outbound = l.outbound[n:]
	return n, nil
}

func (l *Loopback) TransferFail(ctx context.Context, code uint32) error {
	l.in = nil
	l.outbound = nil
	return ctx.Err()
}

func (l *Loopback) Ack(ctx context.Context) error { return ctx.Err() }

func (l *Loopback) Nack(ctx context.Context, code protocol.NackCode) error { return ctx.Err() }

// reply queues a Status for the nth occurrence of kind, applying any
// scripted fault.
func (l *Loopback) reply(kind protocol.Kind, n int, code protocol.StatusCode, message string) {
	for _, f := range l.faults {
		if f.kind == kind && f.nth == n && f.sendErr == nil {
			code, message = f.code, f.message
			if f.nack != 0 {
				l.lastNack = f.nack
			}
		}
	}
	l.replies = append(l.replies, &protocol.Status{Code: code, Message: message})
}

// expect starts a data phase of length bytes; apply decides the status sent
// once all bytes have arrived.
func (l *Loopback) expect(kind protocol.Kind, n int, length uint64, apply func([]byte) protocol.StatusCode) {
	l.in = &inbound{remaining: length, done: func(b []byte) {
		code := protocol.StatusOk
		if apply != nil {
			code = apply(b)
		}
		msg := ""
		if code != protocol.StatusOk {
			msg = code.String()
		}
		l.reply(kind, n, code, msg)
	}}
	l.finishIfEmpty()
}

func (l *Loopback) finishIfEmpty() {
	if l.in != nil && l.in.remaining == 0 {
		in := l.in
		l.in = nil
		in.done(in.buf)
	}
}

// commit places the pending partitions. Partitions keep their creation order
// per device; a partition carrying the remaining-capacity allocation
// attribute absorbs whatever the others leave free.
func (l *Loopback) commit() error {
	for _, p := range l.pending {
		replaced := false
		for i, old := range l.partitions {
			if old.create.ID == p.create.ID {
				l.partitions[i] = p
				p.start, p.count, p.data = old.start, old.count, old.data
				replaced = true
				break
			}
		}
		if !replaced {
			l.partitions = append(l.partitions, p)
		}
	}
	l.pending = nil

	unit := uint64(l.geom.BytesPerSector) * uint64(l.geom.SectorsPerBlock)
	total := uint64(l.geom.SectorsPerBlock) * uint64(l.geom.TotalBlocks)
	byDevice := make(map[protocol.SetDevice][]*simPartition)
	var order []protocol.SetDevice
	for _, p := range l.partitions {
		if _, seen := byDevice[p.device]; !seen {
			order = append(order, p.device)
		}
		byDevice[p.device] = append(byDevice[p.device], p)
	}

	for _, dev := range order {
		parts := byDevice[dev]
		counts := make([]uint64, len(parts))
		var used uint64
		remainder := -1
		for i, p := range parts {
			if p.create.AllocationAttribute&remainingCapacity == remainingCapacity {
				remainder = i
				continue
			}
			size := (p.create.Size + unit - 1) / unit * unit
			counts[i] = size / uint64(l.geom.BytesPerSector)
			used += counts[i]
		}
		if used > total {
			return fmt.Errorf("partitions need %d sectors, device has %d", used, total)
		}
		if remainder >= 0 {
			counts[remainder] = total - used
		}
		var start uint64
		for i, p := range parts {
			if uint32(start) != p.start || uint32(counts[i]) != p.count {
				p.data = nil
			}
			p.start, p.count = uint32(start), uint32(counts[i])
			start += counts[i]
		}
	}
	return nil
}

// remainingCapacity mirrors the allocation attribute used in configuration
// files for "rest of the device".
const remainingCapacity = 0x808

func (l *Loopback) find(id uint32) *simPartition {
	for _, p := range l.partitions {
		if p.create.ID == id {
			return p
		}
	}
	return nil
}

func (l *Loopback) findType(t protocol.PartitionType) *simPartition {
	for _, p := range l.partitions {
		if p.create.Type == t {
			return p
		}
	}
	return nil
}

func deviceID(d protocol.SetDevice) uint32 {
	return uint32(d.Type)<<16 | d.Instance
}
