package flash

import (
	"time"

	"github.com/moffa90/go-nvflash/fusebypass"
	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/transport"
)

// Config holds the session configuration.
type Config struct {
	// ProgressCallback is called as operations advance (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Observer is called after every operation (optional)
	Observer OpObserver

	// Mode and Instance are passed to Transport.Open
	Mode     transport.Mode
	Instance uint32

	// Devices is the partition configuration used by Create and Download
	Devices []*partition.Device

	// BctFile is the boot configuration table image
	BctFile string

	// SetBct sends the BCT before the bootloader so the device stores it.
	// A standalone section update is refused when it is set.
	SetBct bool

	// BootloaderFile is the bootloader image downloaded on first use
	BootloaderFile string

	// LoadAddress and EntryPoint override where the bootloader runs. Setting
	// either makes the session stop once the bootloader is accepted.
	LoadAddress uint32
	EntryPoint  uint32
	customEntry bool

	// OdmData is sent with OdmOptions when non-zero
	OdmData uint32

	// Resume talks to a device whose protocol server is already running:
	// no bootloader download
	Resume bool

	// BlobHash is the bootloader hash recorded in a signed secure blob,
	// required by a BLINFO update
	BlobHash []byte

	// DtbFile replaces the file of the DTB partition
	DtbFile string

	// NctFile replaces the file of the configuration-table partition
	NctFile string

	// FuseBypass is the requested SKU bypass
	FuseBypass fusebypass.Request

	// Skip names partitions Create leaves untouched
	Skip []string

	// BackupDir is where preserved partitions are saved during Create
	BackupDir string

	// ChunkSize is the maximum payload size per DataSend
	ChunkSize int

	// PollInterval is how often a running format is polled
	PollInterval time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Mode:         transport.ModeDefault,
		BackupDir:    ".",
		ChunkSize:    64 * 1024,
		PollInterval: 100 * time.Millisecond,
	}
}

// Option is a functional option for configuring the Session.
type Option func(*Config)

// WithProgressCallback sets a callback function to track session progress.
//
// Example:
//
//	s := flash.New(t,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("%s %.1f%%\n", p.Partition, p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the session operations.
//
// Example:
//
//	s := flash.New(t, flash.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithObserver sets a function called after every operation.
func WithObserver(observer OpObserver) Option {
	return func(c *Config) {
		c.Observer = observer
	}
}

// WithMode selects the transport mode and device instance.
//
// Example:
//
//	s := flash.New(dev, flash.WithMode(transport.ModeSimulation, 0))
func WithMode(mode transport.Mode, instance uint32) Option {
	return func(c *Config) {
		c.Mode = mode
		c.Instance = instance
	}
}

// WithDevices sets the partition configuration.
//
// Example:
//
//	devs, _ := partition.Load("flash.cfg")
//	s := flash.New(t, flash.WithDevices(devs))
func WithDevices(devs []*partition.Device) Option {
	return func(c *Config) {
		c.Devices = devs
	}
}

// WithBct sets the BCT image. Create and UpdateBct need it.
//
// Example:
//
//	s := flash.New(t, flash.WithBct("flash.bct"))
func WithBct(path string) Option {
	return func(c *Config) {
		c.BctFile = path
	}
}

// WithSetBct makes the session send the BCT before the bootloader.
func WithSetBct(set bool) Option {
	return func(c *Config) {
		c.SetBct = set
	}
}

// WithBootloader sets the bootloader image.
//
// Example:
//
//	s := flash.New(t, flash.WithBootloader("bootloader.bin"))
func WithBootloader(path string) Option {
	return func(c *Config) {
		c.BootloaderFile = path
	}
}

// WithLoadAddress overrides the bootloader load address.
func WithLoadAddress(addr uint32) Option {
	return func(c *Config) {
		c.LoadAddress = addr
		c.customEntry = true
	}
}

// WithEntryPoint overrides the bootloader load address and entry point. The
// session ends as soon as the device accepts the image.
//
// Example:
//
//	s := flash.New(t,
//	    flash.WithBootloader("u-boot.bin"),
//	    flash.WithEntryPoint(0x80108000, 0x80108000),
//	)
func WithEntryPoint(load, entry uint32) Option {
	return func(c *Config) {
		c.LoadAddress = load
		c.EntryPoint = entry
		c.customEntry = true
	}
}

// WithOdmData sets the ODM data word.
func WithOdmData(data uint32) Option {
	return func(c *Config) {
		c.OdmData = data
	}
}

// WithResume skips the bootloader download for a device already running
// the protocol server.
func WithResume(resume bool) Option {
	return func(c *Config) {
		c.Resume = resume
	}
}

// WithBlobHash sets the bootloader hash from a signed secure blob.
func WithBlobHash(hash []byte) Option {
	return func(c *Config) {
		c.BlobHash = hash
	}
}

// WithDtbFile replaces the file of the DTB partition.
func WithDtbFile(path string) Option {
	return func(c *Config) {
		c.DtbFile = path
	}
}

// WithNctFile replaces the file of the configuration-table partition with
// an NCT description.
func WithNctFile(path string) Option {
	return func(c *Config) {
		c.NctFile = path
	}
}

// WithFuseBypass requests a SKU bypass during Create.
//
// Example:
//
//	s := flash.New(t, flash.WithFuseBypass(fusebypass.Request{
//	    Target:     fusebypass.AutoSku,
//	    PolicyFile: "fuse_bypass.txt",
//	}))
func WithFuseBypass(req fusebypass.Request) Option {
	return func(c *Config) {
		c.FuseBypass = req
	}
}

// WithSkip names partitions Create must neither erase nor download.
//
// Example:
//
//	s := flash.New(t, flash.WithSkip("UDA", "NCT"))
func WithSkip(names ...string) Option {
	return func(c *Config) {
		c.Skip = append(c.Skip, names...)
	}
}

// WithBackupDir sets where preserved partitions are saved.
func WithBackupDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.BackupDir = dir
		}
	}
}

// WithChunkSize sets the maximum payload size per DataSend.
// Default is 64 KiB.
//
// Example:
//
//	s := flash.New(t, flash.WithChunkSize(16*1024))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

// WithPollInterval sets how often a running format is polled.
// Default is 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}
