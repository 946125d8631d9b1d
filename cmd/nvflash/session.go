package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/moffa90/go-nvflash/flash"
	"github.com/moffa90/go-nvflash/fusebypass"
	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/transport"
)

// errReported is returned once the failure has been printed.
var errReported = errors.New("command failed")

// settings is the resolved CLI configuration: flags, nvflash.yaml and
// NVFLASH_ environment variables, in viper's precedence order.
type settings struct {
	Transport     string
	Instance      uint32
	Resume        bool
	ConfigFile    string
	Bct           string
	SetBct        bool
	Bootloader    string
	LoadAddress   uint32
	EntryPoint    uint32
	OdmData       uint32
	BlobHash      string
	DtbFile       string
	NctFile       string
	Sku           string
	FusePolicy    string
	ForceBypass   bool
	ForceDownload bool
	Skip          []string
	BackupDir     string
	ChunkSize     int
	Yes           bool
	Verbose       bool
	MetricsFile   string
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		Transport:     v.GetString("transport"),
		Instance:      v.GetUint32("instance"),
		Resume:        v.GetBool("resume"),
		ConfigFile:    v.GetString("configfile"),
		Bct:           v.GetString("bct"),
		SetBct:        v.GetBool("setbct"),
		Bootloader:    v.GetString("bl"),
		LoadAddress:   v.GetUint32("bl-load"),
		EntryPoint:    v.GetUint32("bl-entry"),
		OdmData:       v.GetUint32("odmdata"),
		BlobHash:      v.GetString("blob-hash"),
		DtbFile:       v.GetString("dtbfile"),
		NctFile:       v.GetString("nct"),
		Sku:           v.GetString("sku"),
		FusePolicy:    v.GetString("fuse-policy"),
		ForceBypass:   v.GetBool("force-bypass"),
		ForceDownload: v.GetBool("force-download"),
		Skip:          v.GetStringSlice("skip"),
		BackupDir:     v.GetString("backup-dir"),
		ChunkSize:     v.GetInt("chunk-size"),
		Yes:           v.GetBool("yes"),
		Verbose:       v.GetBool("verbose"),
		MetricsFile:   v.GetString("metrics-file"),
	}
}

// openTransport returns the transport named by st and the mode to open it
// with.
func (st settings) openTransport() (transport.Transport, transport.Mode, error) {
	switch st.Transport {
	case "", "sim":
		return transport.NewLoopback(), transport.ModeSimulation, nil
	default:
		return nil, 0, fmt.Errorf("unsupported transport %q", st.Transport)
	}
}

// options translates st into session options.
func (st settings) options() ([]flash.Option, error) {
	opts := []flash.Option{
		flash.WithBct(st.Bct),
		flash.WithSetBct(st.SetBct),
		flash.WithBootloader(st.Bootloader),
		flash.WithOdmData(st.OdmData),
		flash.WithResume(st.Resume),
		flash.WithDtbFile(st.DtbFile),
		flash.WithNctFile(st.NctFile),
		flash.WithSkip(st.Skip...),
		flash.WithBackupDir(st.BackupDir),
		flash.WithChunkSize(st.ChunkSize),
		flash.WithFuseBypass(fusebypass.Request{
			Target:        st.Sku,
			PolicyFile:    st.FusePolicy,
			Force:         st.ForceBypass,
			ForceDownload: st.ForceDownload,
		}),
	}
	if st.LoadAddress != 0 || st.EntryPoint != 0 {
		opts = append(opts, flash.WithEntryPoint(st.LoadAddress, st.EntryPoint))
	}

	if st.ConfigFile != "" {
		devs, err := partition.Load(st.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("partition configuration: %w", err)
		}
		opts = append(opts, flash.WithDevices(devs))
	}
	if st.BlobHash != "" {
		hash, err := os.ReadFile(st.BlobHash)
		if err != nil {
			return nil, fmt.Errorf("failed to read blob hash: %w", err)
		}
		opts = append(opts, flash.WithBlobHash(hash))
	}
	return opts, nil
}

// destructive returns the name of the first op that erases device contents.
func destructive(ops []flash.Op) string {
	for _, op := range ops {
		switch op.(type) {
		case *flash.Create, *flash.Obliterate, *flash.FormatAll:
			return op.Name()
		}
	}
	return ""
}

// confirm asks before a destructive op. Without a terminal the user must
// pass --yes.
func confirm(op string, interactive bool) error {
	if !interactive {
		return fmt.Errorf("%s erases device contents; pass --yes to run it without a terminal", op)
	}
	color.Red("\nWARNING: %s will erase data on the device", op)

	ok := false
	prompt := &survey.Confirm{
		Message: "Do you want to continue?",
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return err
	}
	if !ok {
		return errors.New("aborted")
	}
	return nil
}

// execute runs ops with the configured session and reports the result.
func execute(ops []flash.Op) error {
	st := loadSettings(viper.GetViper())
	interactive := term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
	return runSession(st, ops, interactive, os.Stderr)
}

func runSession(st settings, ops []flash.Op, interactive bool, out io.Writer) error {
	if op := destructive(ops); op != "" && !st.Yes {
		if err := confirm(op, interactive); err != nil {
			return err
		}
	}

	t, mode, err := st.openTransport()
	if err != nil {
		return err
	}
	opts, err := st.options()
	if err != nil {
		return err
	}

	id := uuid.New().String()
	logger := newLogger(out, st.Verbose, interactive, id)
	metrics := newSessionMetrics()
	ui := newProgressUI(out, interactive && !st.Verbose)

	var failedOp string
	opts = append(opts,
		flash.WithMode(mode, st.Instance),
		flash.WithLogger(logger),
		flash.WithProgressCallback(ui.update),
		flash.WithObserver(func(op string, elapsed time.Duration, err error) {
			metrics.observe(op, elapsed, err)
			if err != nil {
				failedOp = op
			}
		}),
	)

	s := flash.New(metrics.instrument(t), opts...)
	defer func() { _ = s.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	err = s.Run(ctx, ops)
	ui.finish()

	if st.MetricsFile != "" {
		if merr := metrics.write(st.MetricsFile); merr != nil {
			logger.Error("failed to write metrics", "file", st.MetricsFile, "error", merr)
		}
	}

	if err != nil {
		fmt.Fprintln(out, color.RedString(failureLine(failedOp, err)))
		return errReported
	}
	fmt.Fprintln(out, color.GreenString("done in %s", time.Since(start).Round(time.Millisecond)))
	return nil
}
