package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-nvflash/flash"
	"github.com/moffa90/go-nvflash/protocol"
)

// progressUI renders session progress: a byte bar while downloading and a
// spinner while a format runs. It is silent when disabled.
type progressUI struct {
	w       io.Writer
	enabled bool

	phase   string
	bar     *progressbar.ProgressBar
	spinner *progressbar.ProgressBar
}

func newProgressUI(w io.Writer, enabled bool) *progressUI {
	return &progressUI{w: w, enabled: enabled}
}

// update is the session progress callback.
func (u *progressUI) update(p flash.Progress) {
	if !u.enabled {
		return
	}
	if p.Phase != u.phase {
		u.finish()
		u.phase = p.Phase
	}

	switch p.Phase {
	case flash.PhaseDownloading, flash.PhaseBootloader:
		if p.TotalBytes == 0 {
			return
		}
		if u.bar == nil {
			u.bar = progressbar.NewOptions64(int64(p.TotalBytes),
				progressbar.OptionSetWriter(u.w),
				progressbar.OptionSetDescription(p.Phase),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionThrottle(65*time.Millisecond),
				progressbar.OptionClearOnFinish(),
			)
		}
		if p.Partition != "" {
			u.bar.Describe(fmt.Sprintf("%s %s", p.Phase, p.Partition))
		}
		_ = u.bar.Set64(int64(p.BytesSent))

	case flash.PhaseFormatting:
		if p.Tick == 0 {
			return
		}
		if u.spinner == nil {
			u.spinner = progressbar.NewOptions(-1,
				progressbar.OptionSetWriter(u.w),
				progressbar.OptionSetDescription("formatting"),
				progressbar.OptionSpinnerType(14),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = u.spinner.Add(1)
	}
}

// finish closes any open bar.
func (u *progressUI) finish() {
	if u.bar != nil {
		_ = u.bar.Finish()
		u.bar = nil
	}
	if u.spinner != nil {
		_ = u.spinner.Finish()
		u.spinner = nil
	}
}

// failureLine renders the final line of a failed run.
func failureLine(op string, err error) string {
	var se *protocol.StatusError
	if !errors.As(err, &se) {
		if op == "" {
			return fmt.Sprintf("command failed: %v", err)
		}
		return fmt.Sprintf("command failed: %s: %v", op, err)
	}
	if op == "" {
		op = se.Operation
	}
	line := fmt.Sprintf("command failed: %s (status %d: %s) nack: %s", op, uint32(se.Code), se.Code, se.Nack)
	if se.Message != "" {
		line += "\nmessage: " + se.Message
	}
	return line
}

// tableRow is the YAML form of a partition table entry.
type tableRow struct {
	ID             uint32 `yaml:"id"`
	Name           string `yaml:"name"`
	DeviceID       uint32 `yaml:"device_id"`
	StartSector    uint32 `yaml:"start_sector"`
	NumSectors     uint32 `yaml:"num_sectors"`
	BytesPerSector uint32 `yaml:"bytes_per_sector"`
	StartPhysical  string `yaml:"start_physical_address"`
	EndPhysical    string `yaml:"end_physical_address"`
}

// writeTableYAML is a flash.TableEncoder producing YAML.
func writeTableYAML(w io.Writer, entries []protocol.PartitionEntry) error {
	rows := make([]tableRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, tableRow{
			ID:             e.ID,
			Name:           e.NameString(),
			DeviceID:       e.DeviceID,
			StartSector:    e.StartLogicalSector,
			NumSectors:     e.NumLogicalSectors,
			BytesPerSector: e.BytesPerSector,
			StartPhysical:  fmt.Sprintf("0x%x", e.StartPhysical),
			EndPhysical:    fmt.Sprintf("0x%x", e.EndPhysical),
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]tableRow{"partitions": rows}); err != nil {
		return err
	}
	return enc.Close()
}

// tableEncoder returns the encoder for format.
func tableEncoder(format string) (flash.TableEncoder, error) {
	switch format {
	case "", "text":
		return protocol.WriteTableText, nil
	case "yaml":
		return writeTableYAML, nil
	default:
		return nil, fmt.Errorf("unknown table format %q", format)
	}
}
