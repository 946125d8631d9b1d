package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-nvflash/flash"
	"github.com/moffa90/go-nvflash/nct"
	"github.com/moffa90/go-nvflash/protocol"
)

func newCreateCmd() *cobra.Command {
	var (
		verify []string
		boot   bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Partition the device and download every partition image",
		Long: `Partition the device from --configfile and download every partition
that has a file. Partitions marked preserve are saved first and restored.

Examples:
  nvflash --bct flash.bct --bl bootloader.bin --configfile flash.cfg create --go
  nvflash --configfile flash.cfg --skip UDA create --verify all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := []flash.Op{&flash.Create{}}
			for _, v := range verify {
				ops = append(ops, &flash.VerifyPartition{Partition: v})
			}
			if boot {
				ops = append(ops, &flash.Go{})
			}
			return execute(ops)
		},
	}
	cmd.Flags().StringSliceVar(&verify, "verify", nil, "partitions to verify after download, or all")
	cmd.Flags().BoolVar(&boot, "go", false, "let the device boot when done")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download [partition [file]]",
		Short: "Download a partition image",
		Long: `Download file to partition. Without a file the configured file of the
partition is used; without a partition every configured partition that has a
file is downloaded.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := &flash.Download{}
			if len(args) > 0 {
				op.Partition = args[0]
			}
			if len(args) > 1 {
				op.File = args[1]
			}
			return execute([]flash.Op{op})
		},
	}
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <partition> <file>",
		Short: "Save a partition to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute([]flash.Op{&flash.Read{Partition: args[0], File: args[1]}})
		},
	}
}

func newTableCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "getpartitiontable [file]",
		Short: "Dump the partition table stored on the device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encode, err := tableEncoder(format)
			if err != nil {
				return err
			}
			op := &flash.GetPartitionTable{Encode: encode}
			if len(args) > 0 {
				op.File = args[0]
			}
			if err := execute([]flash.Op{op}); err != nil {
				return err
			}
			if op.File == "" {
				return encode(os.Stdout, op.Entries)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, yaml)")
	return cmd
}

func newObliterateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "obliterate",
		Short: "Erase the whole storage device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute([]flash.Op{&flash.Obliterate{}})
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <op>...",
		Short: "Run a list of operations in order",
		Long: `Run a list of operations in one session. Each operation is written as
name[:arg[,arg...]].

Operations:
  create                          download[:partition[,file]]
  read:partition,file             rawdeviceread:start,count,file
  rawdevicewrite:start,count,file format_partition:partition
  format_all                      obliterate
  deleteall                       getbct:file
  getbit:file                     setboot:partition
  setbootdevicetype:type          setbootdeviceconfig:value
  verifypart:partition|all        updatebct:section
  getpartitiontable[:file]        readnctitem:index[,tag]
  writenctitem:index,tag,value    fusewrite:file
  runbdktest:file[,results]       reset[:normal|recovery[,delay]]
  sync                            skipsync
  go

Example:
  nvflash --configfile flash.cfg run create verifypart:EBT setboot:EBT go`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := parseOps(args)
			if err != nil {
				return err
			}
			return execute(ops)
		},
	}
}

func parseOps(args []string) ([]flash.Op, error) {
	ops := make([]flash.Op, 0, len(args))
	for _, s := range args {
		op, err := parseOp(s)
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", s, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// parseOp parses one name[:arg[,arg...]] operation.
func parseOp(s string) (flash.Op, error) {
	name, rest, _ := strings.Cut(s, ":")
	name = strings.ToLower(name)
	var args []string
	if rest != "" {
		args = strings.Split(rest, ",")
	}
	need := func(lo, hi int) error {
		if len(args) < lo || len(args) > hi {
			if lo == hi {
				return fmt.Errorf("takes %d argument(s), got %d", lo, len(args))
			}
			return fmt.Errorf("takes %d to %d arguments, got %d", lo, hi, len(args))
		}
		return nil
	}
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch name {
	case "create":
		return &flash.Create{}, need(0, 0)
	case "download":
		return &flash.Download{Partition: arg(0), File: arg(1)}, need(0, 2)
	case "read":
		return &flash.Read{Partition: arg(0), File: arg(1)}, need(2, 2)
	case "rawdeviceread", "rawdevicewrite":
		if err := need(3, 3); err != nil {
			return nil, err
		}
		start, err := parseUint32(args[0])
		if err != nil {
			return nil, err
		}
		count, err := parseUint32(args[1])
		if err != nil {
			return nil, err
		}
		if name == "rawdeviceread" {
			return &flash.RawRead{Start: start, Count: count, File: args[2]}, nil
		}
		return &flash.RawWrite{Start: start, Count: count, File: args[2]}, nil
	case "format_partition":
		return &flash.FormatPartition{Partition: arg(0)}, need(1, 1)
	case "format_all":
		return &flash.FormatAll{}, need(0, 0)
	case "obliterate":
		return &flash.Obliterate{}, need(0, 0)
	case "deleteall":
		return &flash.DeleteAll{}, need(0, 0)
	case "getbct":
		return &flash.GetBct{File: arg(0)}, need(1, 1)
	case "getbit":
		return &flash.GetBit{File: arg(0)}, need(1, 1)
	case "setboot":
		return &flash.SetBoot{Partition: arg(0)}, need(1, 1)
	case "setbootdevicetype":
		if err := need(1, 1); err != nil {
			return nil, err
		}
		t, err := protocol.ParseDeviceType(args[0])
		if err != nil {
			return nil, err
		}
		return &flash.SetBootDevType{Type: t}, nil
	case "setbootdeviceconfig":
		if err := need(1, 1); err != nil {
			return nil, err
		}
		v, err := parseUint32(args[0])
		if err != nil {
			return nil, err
		}
		return &flash.SetBootDevConfig{Config: v}, nil
	case "verifypart":
		return &flash.VerifyPartition{Partition: arg(0)}, need(1, 1)
	case "updatebct":
		if err := need(1, 1); err != nil {
			return nil, err
		}
		section, err := protocol.ParseBctSection(args[0])
		if err != nil {
			return nil, err
		}
		return &flash.UpdateBct{Section: section}, nil
	case "getpartitiontable":
		return &flash.GetPartitionTable{File: arg(0)}, need(0, 1)
	case "readnctitem", "writenctitem":
		if name == "readnctitem" {
			if err := need(1, 2); err != nil {
				return nil, err
			}
		} else if err := need(3, 3); err != nil {
			return nil, err
		}
		index, err := parseUint32(args[0])
		if err != nil {
			return nil, err
		}
		var tag nct.Tag
		if arg(1) != "" {
			if tag, err = parseTag(args[1]); err != nil {
				return nil, err
			}
		}
		if name == "readnctitem" {
			return &flash.ReadNctItem{Index: index, Type: tag}, nil
		}
		return &flash.WriteNctItem{Index: index, Type: tag, Value: args[2]}, nil
	case "fusewrite":
		return &flash.FuseWrite{File: arg(0)}, need(1, 1)
	case "runbdktest":
		return &flash.RunBdkTest{File: arg(0), Out: arg(1)}, need(1, 2)
	case "reset":
		if err := need(0, 2); err != nil {
			return nil, err
		}
		op := &flash.Reset{Type: protocol.ResetNormalBoot}
		switch arg(0) {
		case "", "normal":
		case "recovery":
			op.Type = protocol.ResetRecoveryMode
		default:
			return nil, fmt.Errorf("unknown reset type %q", args[0])
		}
		if arg(1) != "" {
			d, err := parseUint32(args[1])
			if err != nil {
				return nil, err
			}
			op.Delay = d
		}
		return op, nil
	case "sync":
		return &flash.Sync{}, need(0, 0)
	case "skipsync":
		return &flash.SkipSync{}, need(0, 0)
	case "go":
		return &flash.Go{}, need(0, 0)
	}
	return nil, fmt.Errorf("unknown operation %q", name)
}

var tagNames = map[string]nct.Tag{
	"u8":    nct.Tag1BSingle,
	"u16":   nct.Tag2BSingle,
	"u32":   nct.Tag4BSingle,
	"str":   nct.TagStrSingle,
	"u8[]":  nct.Tag1BArray,
	"u16[]": nct.Tag2BArray,
	"u32[]": nct.Tag4BArray,
	"str[]": nct.TagStrArray,
}

// parseTag accepts a tag name such as u32 or str, or its numeric value.
func parseTag(s string) (nct.Tag, error) {
	if t, ok := tagNames[strings.ToLower(s)]; ok {
		return t, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown nct tag %q", s)
	}
	return nct.Tag(n), nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(n), nil
}
