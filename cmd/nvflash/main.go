package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Version info (set by build)
	Version = "dev"
	Commit  = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "nvflash",
	Short: "Flash Tegra devices over the nv3p recovery protocol",
	Long: `nvflash partitions a device from a configuration file, downloads
partition images and runs maintenance commands against the protocol server
running on the device.

Commands:
  create             Partition the device and download every image
  download           Download one partition, or all configured partitions
  read               Save a partition to a file
  getpartitiontable  Dump the partition table stored on the device
  obliterate         Erase the whole storage device
  run                Run a list of operations in order`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is ./nvflash.yaml)")
	f.String("transport", "sim", "device transport (sim)")
	f.Uint32("instance", 0, "device instance")
	f.Bool("resume", false, "the protocol server is already running on the device")
	f.String("configfile", "", "partition configuration file")
	f.String("bct", "", "boot configuration table image")
	f.Bool("setbct", false, "send the bct before the bootloader")
	f.String("bl", "", "bootloader image")
	f.Uint32("bl-load", 0, "bootloader load address")
	f.Uint32("bl-entry", 0, "bootloader entry point")
	f.Uint32("odmdata", 0, "odm data word")
	f.String("blob-hash", "", "file holding the bootloader hash of a secure blob")
	f.String("dtbfile", "", "image for the DTB partition")
	f.String("nct", "", "configuration table file for the config table partition")
	f.String("sku", "", "fuse bypass target: a sku name, a number or auto")
	f.String("fuse-policy", "", "fuse bypass policy file")
	f.Bool("force-bypass", false, "bypass even when the board fails the sku limits")
	f.Bool("force-download", false, "bypass on production parts")
	f.StringSlice("skip", nil, "partitions create leaves untouched")
	f.String("backup-dir", ".", "directory for preserved partition backups")
	f.Int("chunk-size", 64*1024, "maximum payload size per data transfer")
	f.BoolP("yes", "y", false, "do not ask before destructive commands")
	f.BoolP("verbose", "v", false, "verbose output")
	f.String("metrics-file", "", "write session metrics to this file")

	f.VisitAll(func(fl *pflag.Flag) {
		_ = viper.BindPFlag(fl.Name, fl)
	})

	rootCmd.AddCommand(
		newCreateCmd(),
		newDownloadCmd(),
		newReadCmd(),
		newTableCmd(),
		newObliterateCmd(),
		newRunCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("nvflash")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/nvflash")
	}

	viper.SetEnvPrefix("NVFLASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nvflash %s (commit: %s)\n", Version, Commit)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
