package flash

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moffa90/go-nvflash/fusebypass"
	"github.com/moffa90/go-nvflash/layout"
	"github.com/moffa90/go-nvflash/protocol"
)

// create partitions the device from the configuration and downloads every
// partition that has a file.
//
// Preserved partitions are saved before anything is erased and restored by
// the download pass. Payloads are prepared before the first destructive
// command so a missing file fails without partial work.
func (s *Session) create(ctx context.Context) error {
	start := time.Now()

	if err := s.ensureBootloader(ctx); err != nil {
		return err
	}
	if err := s.sendBct(ctx); err != nil {
		return err
	}
	if s.config.Resume && s.config.OdmData != 0 {
		if err := s.exec(ctx, &protocol.OdmOptions{Options: s.config.OdmData}); err != nil {
			return fmt.Errorf("odm data: %w", err)
		}
	}

	if err := s.selectFuseBypass(ctx); err != nil {
		return err
	}

	backups, err := s.backup(ctx)
	if err != nil {
		return err
	}
	defer backups.release()

	payloads, err := s.planPayloads()
	if err != nil {
		return err
	}

	check, err := layout.Check(ctx, s, s.config.Devices, s.config.Skip)
	if err != nil {
		return fmt.Errorf("skip partition check: %w", err)
	}
	for _, name := range check.UnknownSkips {
		s.logInfo("skip partition matches no configured partition", "partition", name)
	}
	perPartition := check.FormatPerPartition

	parts := s.allPartitions()
	s.startPhase(PhaseCreating, 0)
	if err := s.exec(ctx, &protocol.StartPartitionConfiguration{NumPartitions: uint32(len(parts))}); err != nil {
		return err
	}
	for _, d := range s.config.Devices {
		if err := s.exec(ctx, &protocol.SetDevice{Type: d.Type, Instance: d.Instance}); err != nil {
			return err
		}
		if !perPartition {
			err := s.exec(ctx, &protocol.DeleteAll{})
			switch {
			case protocol.IsNotSupported(err):
				s.logInfo("delete all not supported, formatting partitions individually")
				perPartition = true
			case err != nil:
				return err
			}
		}
		for _, p := range d.Partitions {
			if err := s.exec(ctx, p.CreateCommand()); err != nil {
				return fmt.Errorf("create partition %s: %w", p.Name, err)
			}
			s.logDebug("partition created", "partition", p.Name, "id", p.ID, "size", p.Size)
		}
	}
	if err := s.exec(ctx, &protocol.EndPartitionConfiguration{}); err != nil {
		return err
	}
	s.InvalidateTable()
	s.syncPending = true

	if perPartition {
		var targets []verifyTarget
		for _, p := range parts {
			if s.skipped(p.Name) {
				continue
			}
			targets = append(targets, verifyTarget{name: p.Name, id: p.ID})
		}
		if err := s.format(ctx, targets, false); err != nil {
			return err
		}
	}

	if err := s.downloadPayloads(ctx, payloads); err != nil {
		return err
	}

	s.logInfo("create complete",
		"partitions", len(parts),
		"downloaded", len(payloads),
		"elapsed", time.Since(start).String(),
		"chip_sku", fmt.Sprintf("0x%x", s.platform.ChipSku),
	)
	return nil
}

// selectFuseBypass decides the SKU bypass for this board. A bypass that does
// not apply is logged, not returned.
func (s *Session) selectFuseBypass(ctx context.Context) error {
	req := s.config.FuseBypass
	if strings.TrimSpace(req.Target) == "" {
		return nil
	}

	q := &protocol.GetBoardDetails{}
	if err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("board details: %w", err)
	}
	d, err := fusebypass.Select(req, fusebypass.Board{Platform: s.platform, Details: q.Details})
	if err != nil {
		return fmt.Errorf("fuse bypass: %w", err)
	}
	if !d.Applied {
		s.logInfo("fuse bypass not applied", "reason", d.Reason)
		return nil
	}
	if d.Warning != "" {
		s.logInfo("fuse bypass forced", "warning", d.Warning)
	}

	s.bypass = &d
	s.platform.ChipSku = d.Info.SkuID
	s.logInfo("fuse bypass selected", "sku", fmt.Sprintf("0x%x", d.Info.SkuID), "fuses", len(d.Info.Fuses))
	return nil
}

// skipped reports whether name is in the skip list.
func (s *Session) skipped(name string) bool {
	for _, n := range s.config.Skip {
		if n == name {
			return true
		}
	}
	return false
}
