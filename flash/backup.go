package flash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
	"github.com/moffa90/go-nvflash/transport"
)

// backupSet tracks the files saved by backup and the partitions whose
// download source they replaced.
type backupSet struct {
	s     *Session
	files []string
	parts []*partition.Partition
}

// release restores the configured filenames and removes the backup files.
func (b *backupSet) release() {
	for _, p := range b.parts {
		p.RestoreFilename()
	}
	for _, f := range b.files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			b.s.logError("failed to remove backup", "file", f, "error", err)
		}
	}
	b.parts, b.files = nil, nil
}

// backupPath returns the file a partition of this chip is saved to.
func (s *Session) backupPath(name string) string {
	return filepath.Join(s.config.BackupDir, fmt.Sprintf("%x_%s.bin", s.platform.ChipUID.ECID0, name))
}

// backup saves every preserved partition that has no replacement file and
// makes the saved copy its download source.
//
// Nothing is saved in simulation mode or when the device holds no partition
// table yet. A preserved partition missing from the device table is skipped.
func (s *Session) backup(ctx context.Context) (*backupSet, error) {
	b := &backupSet{s: s}

	var preserve []*partition.Partition
	for _, p := range s.allPartitions() {
		if !p.Preserve() {
			continue
		}
		if p.Filename != "" {
			s.logInfo("not creating backup, using file", "partition", p.Name, "file", p.Filename)
			continue
		}
		if p.Type == protocol.PartitionTypeConfigTable && s.config.NctFile != "" {
			continue
		}
		preserve = append(preserve, p)
	}
	if len(preserve) == 0 {
		return b, nil
	}
	if s.t.Mode() == transport.ModeSimulation {
		s.logDebug("simulation mode, skipping backup", "partitions", len(preserve))
		return b, nil
	}

	s.InvalidateTable()
	entries, err := s.PartitionTable(ctx)
	if err != nil {
		if protocol.IsNoPartitionTable(err) {
			s.logInfo("no partition table on device, nothing to back up")
			return b, nil
		}
		return nil, err
	}

	s.startPhase(PhaseBackup, 0)
	for _, p := range preserve {
		id, found := uint32(0), false
		for _, e := range entries {
			if e.MatchesName(p.Name) {
				id, found = e.ID, true
				break
			}
		}
		if !found {
			s.logInfo("partition not on device, no backup taken", "partition", p.Name)
			continue
		}

		path := s.backupPath(p.Name)
		n, err := s.readPartition(ctx, id, p.Name, path)
		if err != nil {
			b.release()
			return nil, fmt.Errorf("backup %s: %w", p.Name, err)
		}
		b.files = append(b.files, path)
		b.parts = append(b.parts, p)
		p.SetFilename(path)
		s.logInfo("partition backed up", "partition", p.Name, "bytes", n, "file", path)
	}
	return b, nil
}
