package flash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/moffa90/go-nvflash/fusebypass"
	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
	"github.com/moffa90/go-nvflash/transport"
)

// bootloaderAlignment is the size multiple the bootloader image is padded to.
const bootloaderAlignment = 16

// Session drives a device through a list of operations.
//
// A Session owns all of its state: the cached device partition table, the
// active fuse bypass, pending sync and reset requests. It is not safe for
// concurrent use.
type Session struct {
	t      transport.Transport
	config Config

	connected bool
	blLoaded  bool
	bctSent   bool
	platform  protocol.PlatformInfo
	geometry  *protocol.DevInfo
	table     tableCache

	syncPending bool
	blInfo      bool
	bctSection  protocol.BctSection
	reset       *Reset

	verifyAll   bool
	verifyNames map[string]bool
	verifyIDs   []verifyTarget

	bypass *fusebypass.Decision

	phase      string
	totalBytes uint64
	sentBytes  uint64
	phaseStart time.Time
}

type verifyTarget struct {
	name string
	id   uint32
}

// New creates a new Session over t with the given options.
// The transport is opened by the first Run.
//
// Example:
//
//	devs, _ := partition.Load("flash.cfg")
//	s := flash.New(t,
//	    flash.WithDevices(devs),
//	    flash.WithBct("flash.bct"),
//	    flash.WithBootloader("bootloader.bin"),
//	)
//	err := s.Run(ctx, []flash.Op{&flash.Create{}, &flash.Go{}})
func New(t transport.Transport, opts ...Option) *Session {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		t:           t,
		config:      cfg,
		verifyNames: make(map[string]bool),
	}
}

// Platform returns the platform information read when the session connected.
func (s *Session) Platform() protocol.PlatformInfo {
	return s.platform
}

// FuseBypass returns the bypass applied by Create, if any.
func (s *Session) FuseBypass() (fusebypass.Decision, bool) {
	if s.bypass == nil {
		return fusebypass.Decision{}, false
	}
	return *s.bypass, true
}

// Close closes the transport.
func (s *Session) Close() error {
	s.connected = false
	return s.t.Close()
}

// Run executes ops in order.
//
// Every operation is checked before the device is contacted, so a missing
// file or an invalid combination fails without partial work. A device status
// other than success aborts the list and is returned as a
// *protocol.StatusError. After the list, Run sends the pending BCT section
// update, the trailing sync, the verification pass and the reset, in that
// order. Verification failures are returned as a *VerifyError once
// everything else has run.
//
// When the bootloader runs from a custom entry point, Run returns nil as
// soon as the device accepts it.
func (s *Session) Run(ctx context.Context, ops []Op) error {
	if err := s.validate(ops); err != nil {
		return err
	}

	err := s.run(ctx, ops)
	if errors.Is(err, ErrCustomEntry) {
		s.logInfo("bootloader started, leaving the device to it",
			"load_address", fmt.Sprintf("0x%x", s.config.LoadAddress),
			"entry_point", fmt.Sprintf("0x%x", s.config.EntryPoint),
		)
		return nil
	}
	if err != nil {
		s.logError("command failed", "error", err)
		s.drainAfterNack(ctx)
		return err
	}
	return nil
}

func (s *Session) run(ctx context.Context, ops []Op) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		start := time.Now()
		err := op.run(ctx, s)
		if s.config.Observer != nil {
			s.config.Observer(op.Name(), time.Since(start), err)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op.Name(), err)
		}

		if _, ok := op.(*Go); ok {
			if rest := len(ops) - i - 1; rest > 0 {
				s.logInfo("device released, ignoring remaining commands", "count", rest)
			}
			break
		}
	}

	return s.finish(ctx)
}

// finish runs the deferred work of a command list.
func (s *Session) finish(ctx context.Context) error {
	if s.bctSection != protocol.BctSectionNone {
		if err := s.ensureBootloader(ctx); err != nil {
			return err
		}
		if err := s.updateBct(ctx, s.bctSection, 0); err != nil {
			return fmt.Errorf("updatebct: %w", err)
		}
		s.syncPending = true
	}

	if s.syncPending {
		if err := s.ensureBootloader(ctx); err != nil {
			return err
		}
		if err := s.exec(ctx, &protocol.Sync{}); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		s.syncPending = false
	}
	if s.blInfo {
		return &UsageError{Op: "updatebct", Reason: "BLINFO section only supported with download command"}
	}

	failed, err := s.verifyPartitions(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if s.reset != nil {
		if err := s.ensureBootloader(ctx); err != nil {
			return err
		}
		if err := s.exec(ctx, &protocol.Reset{Type: s.reset.Type, Delay: s.reset.Delay}); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	s.reportProgress(Progress{Phase: PhaseComplete, Percentage: 100})
	if len(failed) > 0 {
		return &VerifyError{Failed: failed}
	}
	return nil
}

// connect opens the transport and reads the platform information.
func (s *Session) connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	s.startPhase(PhaseConnecting, 0)
	if err := s.t.Open(ctx, s.config.Mode, s.config.Instance); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	q := &protocol.GetPlatformInfo{}
	if err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("get platform info: %w", err)
	}
	s.platform = q.Info
	s.connected = true

	s.logInfo("connected",
		"chip_uid", q.Info.ChipUID.String(),
		"chip_id", fmt.Sprintf("0x%x", q.Info.ChipID.ID),
		"operating_mode", q.Info.OperatingMode.String(),
		"transport", s.t.Mode().String(),
	)
	return nil
}

// ensureBootloader brings the protocol server up, at most once per session.
func (s *Session) ensureBootloader(ctx context.Context) error {
	if s.blLoaded {
		return nil
	}

	if s.config.SetBct {
		if err := s.sendBct(ctx); err != nil {
			return err
		}
	}
	if s.config.OdmData != 0 && !s.config.Resume {
		if err := s.exec(ctx, &protocol.OdmOptions{Options: s.config.OdmData}); err != nil {
			return fmt.Errorf("odm data: %w", err)
		}
		s.syncPending = true
	}

	if s.config.Resume || s.t.Mode() == transport.ModeSimulation {
		s.blLoaded = true
		return nil
	}
	if s.config.BootloaderFile == "" {
		return ErrBootloaderRequired
	}

	image, err := os.ReadFile(s.config.BootloaderFile)
	if err != nil {
		return fmt.Errorf("failed to read bootloader: %w", err)
	}
	if pad := len(image) % bootloaderAlignment; pad != 0 {
		image = append(image, make([]byte, bootloaderAlignment-pad)...)
	}

	s.startPhase(PhaseBootloader, uint64(len(image)))
	cmd := &protocol.DownloadBootloader{
		Length:     uint64(len(image)),
		Address:    s.config.LoadAddress,
		EntryPoint: s.config.EntryPoint,
	}
	if err := s.exec(ctx, cmd); err != nil {
		return fmt.Errorf("download bootloader: %w", err)
	}
	s.logDebug("bootloader accepted",
		"bytes", len(image),
		"load_address", fmt.Sprintf("0x%x", cmd.Address),
		"entry_point", fmt.Sprintf("0x%x", cmd.EntryPoint),
	)

	if err := s.sendData(ctx, bytes.NewReader(image), uint64(len(image)), "bootloader"); err != nil {
		return fmt.Errorf("download bootloader: %w", err)
	}
	s.blLoaded = true

	if s.config.customEntry {
		return ErrCustomEntry
	}
	if err := s.waitStatus(ctx, "bootloader"); err != nil {
		return fmt.Errorf("waiting for bootloader: %w", err)
	}
	s.logInfo("bootloader running", "elapsed", time.Since(s.phaseStart).String())
	return nil
}

// sendBct sends the BCT image once per session.
func (s *Session) sendBct(ctx context.Context) error {
	if s.bctSent {
		return nil
	}
	data, err := os.ReadFile(s.config.BctFile)
	if err != nil {
		return fmt.Errorf("failed to read bct: %w", err)
	}

	if err := s.send(ctx, &protocol.DownloadBct{Length: uint32(len(data))}); err != nil {
		return err
	}
	if err := s.sendData(ctx, bytes.NewReader(data), uint64(len(data)), "bct"); err != nil {
		return fmt.Errorf("download bct: %w", err)
	}
	if err := s.waitStatus(ctx, protocol.KindDownloadBct.String()); err != nil {
		return err
	}
	s.bctSent = true
	s.logDebug("bct sent", "bytes", len(data))
	return nil
}

// send sends cmd without waiting for its status.
func (s *Session) send(ctx context.Context, cmd protocol.Command) error {
	if err := s.t.CommandSend(ctx, cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Kind(), err)
	}
	s.logDebug("command sent", "command", cmd.Kind().String())
	return nil
}

// exec sends cmd and waits for its status.
func (s *Session) exec(ctx context.Context, cmd protocol.Command) error {
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	return s.waitStatus(ctx, cmd.Kind().String())
}

// waitStatus blocks for the next Status reply. A code other than StatusOk
// becomes a *protocol.StatusError carrying the device message unchanged.
func (s *Session) waitStatus(ctx context.Context, op string) error {
	reply, err := s.t.CommandReceive(ctx)
	if err != nil {
		return fmt.Errorf("%s: receive status: %w", op, err)
	}
	status, ok := reply.(*protocol.Status)
	if !ok {
		return fmt.Errorf("%s: expected status, got %s", op, reply.Kind())
	}
	if err := s.t.CommandComplete(ctx, status); err != nil {
		return fmt.Errorf("%s: complete status: %w", op, err)
	}

	if status.Code != protocol.StatusOk {
		return &protocol.StatusError{
			Operation: op,
			Code:      status.Code,
			Message:   status.Message,
			Nack:      s.t.LastNackCode(),
		}
	}
	return nil
}

// drainAfterNack consumes the status the device sends after a NACK.
func (s *Session) drainAfterNack(ctx context.Context) {
	if !s.connected {
		return
	}
	code := s.t.LastNackCode()
	if code == 0 || code == protocol.NackSuccess {
		return
	}
	s.logDebug("draining status after nack", "nack", code.String())
	if reply, err := s.t.CommandReceive(ctx); err == nil {
		_ = s.t.CommandComplete(ctx, reply)
	}
}

// sendData streams n bytes from r in chunks of at most ChunkSize.
func (s *Session) sendData(ctx context.Context, r io.Reader, n uint64, name string) error {
	buf := make([]byte, s.chunkSize(n))
	var sent uint64
	for sent < n {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		chunk := buf
		if left := n - sent; left < uint64(len(chunk)) {
			chunk = chunk[:left]
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := s.t.DataSend(ctx, chunk); err != nil {
			if ferr := s.t.TransferFail(ctx, 0); ferr != nil {
				s.logDebug("transfer fail", "error", ferr)
			}
			return fmt.Errorf("data send: %w", err)
		}
		sent += uint64(len(chunk))
		s.advance(name, uint64(len(chunk)))
	}
	return nil
}

// receiveData reads n bytes of a data phase into w.
func (s *Session) receiveData(ctx context.Context, w io.Writer, n uint64) error {
	buf := make([]byte, s.chunkSize(n))
	var got uint64
	for got < n {
		chunk := buf
		if left := n - got; left < uint64(len(chunk)) {
			chunk = chunk[:left]
		}
		m, err := s.t.DataReceive(ctx, chunk)
		if m > 0 {
			if _, werr := w.Write(chunk[:m]); werr != nil {
				return werr
			}
			got += uint64(m)
		}
		if err != nil && got < n {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("short data phase: %d of %d bytes", got, n)
			}
			return fmt.Errorf("data receive: %w", err)
		}
	}
	return nil
}

func (s *Session) chunkSize(n uint64) int {
	size := s.config.ChunkSize
	if n < uint64(size) {
		size = int(n)
	}
	if size == 0 {
		size = 1
	}
	return size
}

// deviceGeometry returns the boot device geometry, queried once.
func (s *Session) deviceGeometry(ctx context.Context) (protocol.DevInfo, error) {
	if s.geometry != nil {
		return *s.geometry, nil
	}
	q := &protocol.GetDevInfo{}
	if err := s.exec(ctx, q); err != nil {
		return protocol.DevInfo{}, err
	}
	s.geometry = &q.Info
	return q.Info, nil
}

// startPhase begins progress accounting for a phase sending total bytes.
func (s *Session) startPhase(phase string, total uint64) {
	s.phase = phase
	s.phaseStart = time.Now()
	s.totalBytes = total
	s.sentBytes = 0
	s.reportProgress(Progress{Phase: phase, TotalBytes: total})
}

// advance accounts for n payload bytes of name.
func (s *Session) advance(name string, n uint64) {
	s.sentBytes += n
	pct := 100.0
	if s.totalBytes > 0 {
		pct = float64(s.sentBytes) / float64(s.totalBytes) * 100
		if pct > 100 {
			pct = 100
		}
	}
	s.reportProgress(Progress{
		Phase:       s.phase,
		Partition:   name,
		BytesSent:   s.sentBytes,
		TotalBytes:  s.totalBytes,
		Percentage:  pct,
		ElapsedTime: time.Since(s.phaseStart),
	})
}

// reportProgress calls the progress callback if configured.
func (s *Session) reportProgress(progress Progress) {
	if s.config.ProgressCallback != nil {
		s.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (s *Session) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (s *Session) logInfo(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (s *Session) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, keysAndValues...)
	}
}

// allPartitions returns the configured partitions in order.
func (s *Session) allPartitions() []*partition.Partition {
	return partition.All(s.config.Devices)
}
