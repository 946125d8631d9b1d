package flash

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moffa90/go-nvflash/nct"
	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
	"github.com/moffa90/go-nvflash/transport"
)

// VerifyAll is the VerifyPartition name that marks every downloaded
// partition for verification.
const VerifyAll = "all"

// Op is one operation of a command list passed to Session.Run.
type Op interface {
	// Name is the command name used in errors and logs
	Name() string

	run(ctx context.Context, s *Session) error
}

// planner is implemented by operations that check their arguments, or
// record session-wide state, before the device is contacted.
type planner interface {
	plan(s *Session) error
}

// TableEncoder writes a partition table read from the device.
type TableEncoder func(w io.Writer, entries []protocol.PartitionEntry) error

// Create partitions the device from the configuration and downloads every
// partition that has a file.
type Create struct{}

// Download writes File to Partition. With an empty Partition every
// configured partition that has a file is downloaded.
type Download struct {
	Partition string
	File      string
}

// Read saves the contents of Partition to File.
type Read struct {
	Partition string
	File      string
}

// RawRead saves Count sectors starting at Start to File.
type RawRead struct {
	Start uint32
	Count uint32
	File  string
}

// RawWrite writes File to Count sectors starting at Start. The file is
// padded with zeros to the full sector count.
type RawWrite struct {
	Start uint32
	Count uint32
	File  string
}

// FormatPartition formats one partition.
type FormatPartition struct {
	Partition string
}

// FormatAll formats every partition of the device.
type FormatAll struct{}

// Obliterate erases the whole storage device.
type Obliterate struct{}

// DeleteAll deletes every partition of the device.
type DeleteAll struct{}

// GetBct saves the device BCT to File.
type GetBct struct {
	File string
}

// GetBit saves the boot information table to File.
type GetBit struct {
	File string
}

// SetBoot marks Partition bootable.
type SetBoot struct {
	Partition string
}

// SetBootDevType selects the secondary boot device type.
type SetBootDevType struct {
	Type protocol.DeviceType
}

// SetBootDevConfig sets the boot device configuration word.
type SetBootDevConfig struct {
	Config uint32
}

// VerifyPartition marks Partition, or VerifyAll, for verification. Marked
// partitions are checked once the list has run, whatever the position of the
// marker in the list.
type VerifyPartition struct {
	Partition string
}

// UpdateBct rewrites one section of the BCT stored on the device from the
// WithBct image. A BLINFO update is sent with the bootloader partition
// download; other sections are sent after the list.
type UpdateBct struct {
	Section protocol.BctSection
}

// GetPartitionTable reads the partition table from the device and writes it
// to File with Encode, protocol.WriteTableText by default. Entries is output.
type GetPartitionTable struct {
	File   string
	Encode TableEncoder

	Entries []protocol.PartitionEntry
}

// ReadNctItem reads one NCT entry. Data and Value are output; Value is Data
// rendered according to Type.
type ReadNctItem struct {
	Index uint32
	Type  nct.Tag

	Data  []byte
	Value string
}

// WriteNctItem writes one NCT entry.
type WriteNctItem struct {
	Index uint32
	Type  nct.Tag
	Value string

	data []byte
}

// FuseWrite burns the fuses described by File, a list of <name:value>
// sections.
type FuseWrite struct {
	File string

	payload []byte
}

// RunBdkTest runs the diagnostic test plan in File and writes the results as
// text to Out when set. Results is output.
type RunBdkTest struct {
	File string
	Out  string

	Results []protocol.BdkResult

	tests []bdkTest
}

// Reset resets the device once the list has run.
type Reset struct {
	Type  protocol.ResetType
	Delay uint32
}

// Sync schedules the trailing sync.
type Sync struct{}

// SkipSync cancels the trailing sync.
type SkipSync struct{}

// Go lets the device continue booting. Operations after Go are ignored.
type Go struct{}

func (*Create) Name() string            { return "create" }
func (*Download) Name() string          { return "download" }
func (*Read) Name() string              { return "read" }
func (*RawRead) Name() string           { return "rawdeviceread" }
func (*RawWrite) Name() string          { return "rawdevicewrite" }
func (*FormatPartition) Name() string   { return "format_partition" }
func (*FormatAll) Name() string         { return "format_all" }
func (*Obliterate) Name() string        { return "obliterate" }
func (*DeleteAll) Name() string         { return "deleteall" }
func (*GetBct) Name() string            { return "getbct" }
func (*GetBit) Name() string            { return "getbit" }
func (*SetBoot) Name() string           { return "setboot" }
func (*SetBootDevType) Name() string    { return "setbootdevicetype" }
func (*SetBootDevConfig) Name() string  { return "setbootdeviceconfig" }
func (*VerifyPartition) Name() string   { return "verifypart" }
func (*UpdateBct) Name() string         { return "updatebct" }
func (*GetPartitionTable) Name() string { return "getpartitiontable" }
func (*ReadNctItem) Name() string       { return "readnctitem" }
func (*WriteNctItem) Name() string      { return "writenctitem" }
func (*FuseWrite) Name() string         { return "fusewrite" }
func (*RunBdkTest) Name() string        { return "runbdktest" }
func (*Reset) Name() string             { return "reset" }
func (*Sync) Name() string              { return "sync" }
func (*SkipSync) Name() string          { return "skipsync" }
func (*Go) Name() string                { return "go" }

// validate checks the whole list before any device traffic.
func (s *Session) validate(ops []Op) error {
	bootloader := false
	for _, op := range ops {
		if p, ok := op.(planner); ok {
			if err := p.plan(s); err != nil {
				return err
			}
		}
		if d, ok := op.(*Download); ok && s.downloadsBootloader(d) {
			bootloader = true
		}
	}

	if s.blInfo && !bootloader {
		return &UsageError{Op: "updatebct", Reason: "BLINFO section only supported with download command"}
	}

	if len(ops) == 0 || s.config.Resume || s.config.Mode == transport.ModeSimulation {
		return nil
	}
	if s.config.BootloaderFile == "" {
		return ErrBootloaderRequired
	}
	if _, err := os.Stat(s.config.BootloaderFile); err != nil {
		return fmt.Errorf("bootloader: %w", err)
	}
	return nil
}

// downloadsBootloader reports whether d writes a configured bootloader-type
// partition.
func (s *Session) downloadsBootloader(d *Download) bool {
	if d.Partition != "" {
		p, _ := partition.Find(s.config.Devices, d.Partition)
		return p != nil && p.Type.IsBootloader()
	}
	for _, p := range partition.All(s.config.Devices) {
		if p.Type.IsBootloader() && p.Filename != "" {
			return true
		}
	}
	return false
}

// requireFile reports a missing or unreadable input file for op.
func requireFile(op, path string) error {
	if path == "" {
		return &UsageError{Op: op, Reason: "file name required"}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// requireOutput reports a missing output file name for op.
func requireOutput(op, path string) error {
	if path == "" {
		return &UsageError{Op: op, Reason: "output file name required"}
	}
	return nil
}

func (o *Create) plan(s *Session) error {
	if s.config.BctFile == "" {
		return fmt.Errorf("%s: %w", o.Name(), ErrBctRequired)
	}
	if len(s.config.Devices) == 0 {
		return fmt.Errorf("%s: %w", o.Name(), ErrNoDevices)
	}
	return requireFile(o.Name(), s.config.BctFile)
}

func (o *Create) run(ctx context.Context, s *Session) error {
	return s.create(ctx)
}

func (o *Download) plan(s *Session) error {
	if s.config.SetBct {
		return &UsageError{Op: o.Name(), Reason: "--setbct is not supported with this command"}
	}
	if o.Partition == "" {
		if len(s.config.Devices) == 0 {
			return fmt.Errorf("%s: %w", o.Name(), ErrNoDevices)
		}
		return nil
	}
	if o.File != "" {
		return requireFile(o.Name(), o.File)
	}
	return nil
}

func (o *Download) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	s.syncPending = true
	if o.Partition == "" {
		return s.downloadAll(ctx)
	}
	return s.downloadOne(ctx, o.Partition, o.File)
}

func (o *Read) plan(s *Session) error {
	if s.config.SetBct {
		return &UsageError{Op: o.Name(), Reason: "--setbct is not supported with this command"}
	}
	return requireOutput(o.Name(), o.File)
}

func (o *Read) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	id, _, err := s.resolve(ctx, o.Partition)
	if err != nil {
		return err
	}
	n, err := s.readPartition(ctx, id, o.Partition, o.File)
	if err != nil {
		return err
	}
	s.logInfo("partition read", "partition", o.Partition, "bytes", n, "file", o.File)
	return nil
}

func (o *RawRead) plan(s *Session) error {
	if o.Count == 0 {
		return &UsageError{Op: o.Name(), Reason: "sector count must be positive"}
	}
	return requireOutput(o.Name(), o.File)
}

func (o *RawRead) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	geom, err := s.deviceGeometry(ctx)
	if err != nil {
		return err
	}
	total := uint64(o.Count) * uint64(geom.BytesPerSector)

	f, err := os.Create(o.File)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := s.send(ctx, &protocol.RawDeviceRead{StartSector: o.Start, NumSectors: o.Count}); err != nil {
		return err
	}
	if err := s.receiveData(ctx, f, total); err != nil {
		return err
	}
	if err := s.waitStatus(ctx, o.Name()); err != nil {
		return err
	}
	s.logInfo("sectors read", "start", o.Start, "count", o.Count, "file", o.File)
	return nil
}

func (o *RawWrite) plan(s *Session) error {
	if o.Count == 0 {
		return &UsageError{Op: o.Name(), Reason: "sector count must be positive"}
	}
	return requireFile(o.Name(), o.File)
}

func (o *RawWrite) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	geom, err := s.deviceGeometry(ctx)
	if err != nil {
		return err
	}
	total := uint64(o.Count) * uint64(geom.BytesPerSector)

	data, err := os.ReadFile(o.File)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if uint64(len(data)) > total {
		return &SizeError{Partition: fmt.Sprintf("sectors %d+%d", o.Start, o.Count), Size: uint64(len(data)), Capacity: total}
	}
	data = append(data, make([]byte, total-uint64(len(data)))...)

	if err := s.send(ctx, &protocol.RawDeviceWrite{StartSector: o.Start, NumSectors: o.Count}); err != nil {
		return err
	}
	s.startPhase(PhaseDownloading, total)
	if err := s.sendData(ctx, bytes.NewReader(data), total, o.Name()); err != nil {
		return err
	}
	if err := s.waitStatus(ctx, o.Name()); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *FormatPartition) plan(s *Session) error {
	if s.config.SetBct {
		return &UsageError{Op: o.Name(), Reason: "--setbct is not supported with this command"}
	}
	if o.Partition == "" {
		return &UsageError{Op: o.Name(), Reason: "partition required"}
	}
	return nil
}

func (o *FormatPartition) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	id, _, err := s.resolve(ctx, o.Partition)
	if err != nil {
		return err
	}
	if err := s.format(ctx, []verifyTarget{{name: o.Partition, id: id}}, false); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *FormatAll) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	entries, err := s.PartitionTable(ctx)
	if err != nil {
		return err
	}
	targets := make([]verifyTarget, 0, len(entries))
	for _, e := range entries {
		targets = append(targets, verifyTarget{name: e.NameString(), id: e.ID})
	}
	if err := s.format(ctx, targets, true); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *Obliterate) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	if err := s.exec(ctx, &protocol.Obliterate{}); err != nil {
		return err
	}
	s.InvalidateTable()
	s.syncPending = true
	return nil
}

func (o *DeleteAll) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	if err := s.exec(ctx, &protocol.DeleteAll{}); err != nil {
		return err
	}
	s.InvalidateTable()
	s.syncPending = true
	return nil
}

func (o *GetBct) plan(s *Session) error { return requireOutput(o.Name(), o.File) }

func (o *GetBct) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	cmd := &protocol.GetBct{}
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	return s.saveData(ctx, o.Name(), o.File, uint64(cmd.Length))
}

func (o *GetBit) plan(s *Session) error { return requireOutput(o.Name(), o.File) }

func (o *GetBit) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	cmd := &protocol.GetBit{}
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	return s.saveData(ctx, o.Name(), o.File, uint64(cmd.Length))
}

func (o *SetBoot) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	id, _, err := s.resolve(ctx, o.Partition)
	if err != nil {
		return err
	}
	if err := s.exec(ctx, &protocol.SetBootPartition{ID: id}); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *SetBootDevType) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	if err := s.exec(ctx, &protocol.SetBootDevType{DevType: o.Type}); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *SetBootDevConfig) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	if err := s.exec(ctx, &protocol.SetBootDevConfig{DevConfig: o.Config}); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *VerifyPartition) plan(s *Session) error {
	switch {
	case o.Partition == "":
		return &UsageError{Op: o.Name(), Reason: "partition required"}
	case strings.EqualFold(o.Partition, VerifyAll):
		s.verifyAll = true
	default:
		s.verifyNames[o.Partition] = true
	}
	return nil
}

func (o *VerifyPartition) run(ctx context.Context, s *Session) error { return nil }

func (o *UpdateBct) plan(s *Session) error {
	if s.config.BctFile == "" {
		return fmt.Errorf("%s: %w", o.Name(), ErrBctRequired)
	}
	if err := requireFile(o.Name(), s.config.BctFile); err != nil {
		return err
	}

	switch o.Section {
	case protocol.BctSectionNone:
		return &UsageError{Op: o.Name(), Reason: "bct section required"}
	case protocol.BctSectionBlInfo:
		if len(s.config.BlobHash) == 0 {
			return &UsageError{Op: o.Name(), Reason: "BLINFO update requires the bootloader hash of a secure blob"}
		}
		s.blInfo = true
	default:
		if s.config.SetBct {
			return &UsageError{Op: o.Name(), Reason: "updatebct and setbct are not supported at the same time"}
		}
		s.bctSection = o.Section
	}
	return nil
}

func (o *UpdateBct) run(ctx context.Context, s *Session) error { return nil }

func (o *GetPartitionTable) run(ctx context.Context, s *Session) error {
	s.InvalidateTable()
	entries, err := s.PartitionTable(ctx)
	if err != nil {
		return err
	}
	o.Entries = entries
	if o.File == "" {
		return nil
	}

	encode := o.Encode
	if encode == nil {
		encode = protocol.WriteTableText
	}
	f, err := os.Create(o.File)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := encode(f, entries); err != nil {
		_ = f.Close()
		return fmt.Errorf("write partition table: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write partition table: %w", err)
	}
	s.logInfo("partition table saved", "entries", len(entries), "file", o.File)
	return nil
}

func (o *ReadNctItem) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	cmd := &protocol.ReadNctItem{Index: o.Index}
	if err := s.exec(ctx, cmd); err != nil {
		return err
	}
	o.Data = cmd.Data
	o.Value = nct.FormatItem(o.Type, cmd.Data)
	s.logInfo("nct item", "index", o.Index, "value", o.Value)
	return nil
}

func (o *WriteNctItem) plan(s *Session) error {
	data, err := nct.EncodeItem(o.Type, o.Value)
	if err != nil {
		return fmt.Errorf("%s: %w", o.Name(), err)
	}
	o.data = data
	return nil
}

func (o *WriteNctItem) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	if err := s.exec(ctx, &protocol.WriteNctItem{Index: o.Index, Type: uint32(o.Type), Data: o.data}); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *FuseWrite) plan(s *Session) error {
	if err := requireFile(o.Name(), o.File); err != nil {
		return err
	}
	payload, err := parseFuseFile(o.File)
	if err != nil {
		return fmt.Errorf("%s: %w", o.Name(), err)
	}
	o.payload = payload
	return nil
}

func (o *FuseWrite) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	n := uint64(len(o.payload))
	if err := s.send(ctx, &protocol.FuseWrite{Length: uint32(n)}); err != nil {
		return err
	}
	s.startPhase(PhaseDownloading, n)
	if err := s.sendData(ctx, bytes.NewReader(o.payload), n, "fuses"); err != nil {
		return err
	}
	if err := s.waitStatus(ctx, o.Name()); err != nil {
		return err
	}
	s.logInfo("fuse details downloaded", "bytes", n)
	s.syncPending = true
	return nil
}

func (o *RunBdkTest) plan(s *Session) error {
	if err := requireFile(o.Name(), o.File); err != nil {
		return err
	}
	tests, err := parseTestPlan(o.File)
	if err != nil {
		return fmt.Errorf("%s: %w", o.Name(), err)
	}
	o.tests = tests
	return nil
}

func (o *RunBdkTest) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	return s.runTests(ctx, o)
}

// Reset is deferred until the list has run.
func (o *Reset) run(ctx context.Context, s *Session) error {
	s.reset = o
	return nil
}

func (o *Sync) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	s.syncPending = true
	return nil
}

func (o *SkipSync) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	if err := s.send(ctx, &protocol.SkipSync{}); err != nil {
		return err
	}
	s.syncPending = false
	return nil
}

func (o *Go) run(ctx context.Context, s *Session) error {
	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	return s.exec(ctx, &protocol.Go{})
}

// saveData writes an n byte data phase to path and waits for the status.
func (s *Session) saveData(ctx context.Context, op, path string, n uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := s.receiveData(ctx, f, n); err != nil {
		return err
	}
	if err := s.waitStatus(ctx, op); err != nil {
		return err
	}
	s.logInfo("saved", "command", op, "bytes", n, "file", path)
	return nil
}
