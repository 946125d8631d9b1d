package flash

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/moffa90/go-nvflash/nct"
	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
)

// payload is the data one partition is downloaded with: a file, or an image
// built in memory.
type payload struct {
	name string
	id   uint32
	typ  protocol.PartitionType

	path string
	data []byte
	size uint64

	// capacity is the configured size; zero means ask the device
	capacity uint64
}

func (p *payload) open() (io.ReadCloser, error) {
	if p.path == "" {
		return io.NopCloser(bytes.NewReader(p.data)), nil
	}
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// planPayloads prepares the downloads of a create or download-all pass, in
// configuration order. Table and BCT partitions, skipped partitions and
// partitions without a payload are left out.
func (s *Session) planPayloads() ([]*payload, error) {
	var out []*payload
	for _, p := range s.allPartitions() {
		if p.Type == protocol.PartitionTypeBct || p.Type == protocol.PartitionTypePartitionTable {
			continue
		}
		if s.skipped(p.Name) {
			s.logDebug("skipping partition", "partition", p.Name)
			continue
		}
		pl, err := s.payloadFor(p)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", p.Name, err)
		}
		if pl != nil {
			out = append(out, pl)
		}
	}
	return out, nil
}

// payloadFor returns the payload of p, or nil when p has none.
func (s *Session) payloadFor(p *partition.Partition) (*payload, error) {
	pl := &payload{name: p.Name, id: p.ID, typ: p.Type}
	if !p.RemainingCapacity() {
		pl.capacity = p.Size
	}

	switch {
	case p.Type == protocol.PartitionTypeFuseBypass:
		if s.bypass == nil {
			s.logDebug("no fuse bypass selected, skipping partition", "partition", p.Name)
			return nil, nil
		}
		data, err := s.bypass.Info.MarshalBinary()
		if err != nil {
			return nil, err
		}
		pl.data = data

	case p.Type == protocol.PartitionTypeConfigTable:
		path := s.config.NctFile
		if path == "" {
			path = p.Filename
		}
		if path == "" {
			s.logInfo("no configuration table file, skipping partition", "partition", p.Name)
			return nil, nil
		}
		if !strings.HasSuffix(strings.ToLower(path), ".txt") {
			pl.path = path
			break
		}
		table, err := nct.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("configuration table %s: %w", path, err)
		}
		data, err := table.MarshalBinary()
		if err != nil {
			return nil, err
		}
		pl.data = data

	case p.Name == partition.DtbName && s.config.DtbFile != "":
		pl.path = s.config.DtbFile

	case p.Filename != "":
		pl.path = p.Filename

	default:
		return nil, nil
	}

	if pl.path != "" {
		fi, err := os.Stat(pl.path)
		if err != nil {
			return nil, err
		}
		pl.size = uint64(fi.Size())
	} else {
		pl.size = uint64(len(pl.data))
	}
	return pl, nil
}

// downloadPayloads downloads payloads in order with one progress phase
// covering all of them.
func (s *Session) downloadPayloads(ctx context.Context, payloads []*payload) error {
	var total uint64
	for _, pl := range payloads {
		total += pl.size
	}
	s.startPhase(PhaseDownloading, total)
	for _, pl := range payloads {
		if err := s.download(ctx, pl); err != nil {
			return err
		}
	}
	return nil
}

// downloadAll downloads every configured partition that has a payload.
func (s *Session) downloadAll(ctx context.Context) error {
	payloads, err := s.planPayloads()
	if err != nil {
		return err
	}
	if err := s.downloadPayloads(ctx, payloads); err != nil {
		return err
	}
	s.logInfo("partitions downloaded", "count", len(payloads))
	return nil
}

// downloadOne downloads path, or the configured file of name, to partition
// name.
func (s *Session) downloadOne(ctx context.Context, name, path string) error {
	id, cp, err := s.resolve(ctx, name)
	if err != nil {
		return err
	}

	var pl *payload
	if path == "" && cp != nil {
		if pl, err = s.payloadFor(cp); err != nil {
			return fmt.Errorf("partition %s: %w", name, err)
		}
	} else if path != "" {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		pl = &payload{name: name, id: id, path: path, size: uint64(fi.Size())}
		if cp != nil {
			pl.typ = cp.Type
			if !cp.RemainingCapacity() {
				pl.capacity = cp.Size
			}
		}
	}
	if pl == nil {
		return &UsageError{Op: "download", Reason: fmt.Sprintf("no file for partition %s", name)}
	}

	return s.downloadPayloads(ctx, []*payload{pl})
}

// download sends one payload. The destination capacity is checked first;
// when it is not configured it is queried from the device.
func (s *Session) download(ctx context.Context, pl *payload) error {
	start := time.Now()

	capacity := pl.capacity
	if capacity == 0 || pl.typ == 0 {
		q := &protocol.QueryPartition{ID: pl.id}
		if err := s.exec(ctx, q); err != nil {
			return fmt.Errorf("query partition %s: %w", pl.name, err)
		}
		if capacity == 0 {
			capacity = q.Size
		}
		if pl.typ == 0 {
			pl.typ = q.PartType
		}
	}
	if pl.size > capacity {
		return &SizeError{Partition: pl.name, Size: pl.size, Capacity: capacity}
	}

	if s.verifyAll || s.verifyNames[pl.name] {
		if err := s.exec(ctx, &protocol.VerifyPartitionEnable{ID: pl.id}); err != nil {
			return fmt.Errorf("verify partition %s: %w", pl.name, err)
		}
		s.markVerify(pl.name, pl.id)
	}

	if pl.typ.IsBootloader() && s.blInfo {
		if err := s.updateBct(ctx, protocol.BctSectionBlInfo, pl.id); err != nil {
			return fmt.Errorf("updatebct: %w", err)
		}
		s.blInfo = false
	}

	r, err := pl.open()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if err := s.send(ctx, &protocol.DownloadPartition{ID: pl.id, Length: pl.size}); err != nil {
		return err
	}
	if err := s.sendData(ctx, r, pl.size, pl.name); err != nil {
		return fmt.Errorf("download %s: %w", pl.name, err)
	}
	if err := s.waitStatus(ctx, "download partition "+pl.name); err != nil {
		return err
	}

	s.logInfo("partition downloaded",
		"partition", pl.name,
		"bytes", pl.size,
		"elapsed", time.Since(start).String(),
	)
	return nil
}

// updateBct rewrites section of the device BCT from the WithBct image. A
// BLINFO update is preceded by the secure blob bootloader hash.
func (s *Session) updateBct(ctx context.Context, section protocol.BctSection, partitionID uint32) error {
	data, err := os.ReadFile(s.config.BctFile)
	if err != nil {
		return fmt.Errorf("failed to read bct: %w", err)
	}

	if section == protocol.BctSectionBlInfo {
		hash := s.config.BlobHash
		if err := s.send(ctx, &protocol.SetBlHash{Length: uint32(len(hash))}); err != nil {
			return err
		}
		if err := s.sendData(ctx, bytes.NewReader(hash), uint64(len(hash)), "bootloader hash"); err != nil {
			return err
		}
		if err := s.waitStatus(ctx, protocol.KindSetBlHash.String()); err != nil {
			return err
		}
	}

	cmd := &protocol.UpdateBct{Length: uint32(len(data)), Section: section, PartitionID: partitionID}
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	if err := s.sendData(ctx, bytes.NewReader(data), uint64(len(data)), "bct"); err != nil {
		return err
	}
	if err := s.waitStatus(ctx, protocol.KindUpdateBct.String()); err != nil {
		return err
	}
	s.logInfo("bct section updated", "section", section.String())
	return nil
}

// readPartition saves partition id to path and returns the byte count. A
// partial file is removed.
func (s *Session) readPartition(ctx context.Context, id uint32, name, path string) (n uint64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	cmd := &protocol.ReadPartition{ID: id}
	if err := s.send(ctx, cmd); err != nil {
		return 0, err
	}
	if err := s.receiveData(ctx, f, cmd.Length); err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	if err := s.waitStatus(ctx, "read partition "+name); err != nil {
		return 0, err
	}
	return cmd.Length, nil
}
