package protocol

import "fmt"

// ProtocolVersion is the nv3p protocol revision implemented by this library.
const ProtocolVersion = "3.0"

// String and name limits of the wire structures.
const (
	// MaxStringLength is the size of fixed string fields (partition names,
	// BDK suite names).
	MaxStringLength = 32

	// EntryNameLength is the size of the name field in a device-reported
	// partition table entry.
	EntryNameLength = 4

	// StatusMessageLength is the size of the message field of a Status reply.
	StatusMessageLength = 64
)

// Kind identifies a command in the command enumeration.
type Kind uint32

// Command enumeration. Values match the device firmware and must not be
// reordered.
const (
	KindGetPlatformInfo Kind = iota + 1
	KindGetBct
	KindGetBit
	KindDownloadBct
	KindSetBlHash
	KindDownloadBootloader
	KindOdmOptions
	KindSetBootDevType
	KindSetBootDevConfig
	KindStatus
	KindSetDevice
	KindStartPartitionConfiguration
	KindEndPartitionConfiguration
	KindFormatPartition
	KindDownloadPartition
	KindQueryPartition
	KindCreatePartition
	KindReadPartition
	KindSetBootPartition
	KindReadPartitionTable
	KindDeleteAll
	KindFormatAll
	KindObliterate
	KindOdmCommand
	KindGo
	KindSync
	KindVerifyPartitionEnable
	KindVerifyPartition
	KindEndVerifyPartition
	KindSetTime
	KindRawDeviceRead
	KindRawDeviceWrite
	KindUpdateBct
	KindGetDevInfo
	KindNvPrivData
	KindRunBdkTest
	KindGetServerVersion
	KindFuseWrite
	KindSymKeyGen
	KindDFuseBurn
	KindDumpRAM
	KindBdkGetSuiteInfo
	KindSkipSync
	KindReset
	KindGetBoardDetails
	KindRecovery
	KindReadBoardInfo
	KindSetBdkTest
	KindReadNctItem
	KindWriteNctItem
)

var kindNames = map[Kind]string{
	KindGetPlatformInfo:             "get platform info",
	KindGetBct:                      "get bct",
	KindGetBit:                      "get bit",
	KindDownloadBct:                 "download bct",
	KindSetBlHash:                   "set bootloader hash",
	KindDownloadBootloader:          "download bootloader",
	KindOdmOptions:                  "odm options",
	KindSetBootDevType:              "set boot device type",
	KindSetBootDevConfig:            "set boot device config",
	KindStatus:                      "status",
	KindSetDevice:                   "set device",
	KindStartPartitionConfiguration: "start partition configuration",
	KindEndPartitionConfiguration:   "end partition configuration",
	KindFormatPartition:             "format partition",
	KindDownloadPartition:           "download partition",
	KindQueryPartition:              "query partition",
	KindCreatePartition:             "create partition",
	KindReadPartition:               "read partition",
	KindSetBootPartition:            "set boot partition",
	KindReadPartitionTable:          "read partition table",
	KindDeleteAll:                   "delete all",
	KindFormatAll:                   "format all",
	KindObliterate:                  "obliterate",
	KindOdmCommand:                  "odm command",
	KindGo:                          "go",
	KindSync:                        "sync",
	KindVerifyPartitionEnable:       "verify partition enable",
	KindVerifyPartition:             "verify partition",
	KindEndVerifyPartition:          "end verify partition",
	KindSetTime:                     "set time",
	KindRawDeviceRead:               "raw device read",
	KindRawDeviceWrite:              "raw device write",
	KindUpdateBct:                   "update bct",
	KindGetDevInfo:                  "get device info",
	KindNvPrivData:                  "nv private data",
	KindRunBdkTest:                  "run bdk test",
	KindGetServerVersion:            "get server version",
	KindFuseWrite:                   "fuse write",
	KindSymKeyGen:                   "symkeygen",
	KindDFuseBurn:                   "dfuseburn",
	KindDumpRAM:                     "dump ram",
	KindBdkGetSuiteInfo:             "bdk get suite info",
	KindSkipSync:                    "skip sync",
	KindReset:                       "reset",
	KindGetBoardDetails:             "get board details",
	KindRecovery:                    "recovery",
	KindReadBoardInfo:               "read board info",
	KindSetBdkTest:                  "set bdk test",
	KindReadNctItem:                 "read nct item",
	KindWriteNctItem:                "write nct item",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("command %d", uint32(k))
}

// NackCode is the reason code carried by a negative acknowledgement.
type NackCode uint32

const (
	NackSuccess NackCode = iota + 1
	NackBadCommand
	NackBadData
)

func (c NackCode) String() string {
	switch c {
	case 0, NackSuccess:
		return "success"
	case NackBadCommand:
		return "bad command"
	case NackBadData:
		return "bad data"
	default:
		return "unknown"
	}
}

// PartitionType is the partition-table type of a partition.
type PartitionType uint32

const (
	PartitionTypeBct PartitionType = iota + 1
	PartitionTypeBootloader
	PartitionTypePartitionTable
	PartitionTypeNvData
	PartitionTypeData
	PartitionTypeMbr
	PartitionTypeEbr
	PartitionTypeGP1
	PartitionTypeGPT
	PartitionTypeBootloaderStage2
	PartitionTypeOs
	PartitionTypeFuseBypass
	PartitionTypeConfigTable
	PartitionTypeWB0
)

var partitionTypeNames = map[string]PartitionType{
	"bct":               PartitionTypeBct,
	"bootloader":        PartitionTypeBootloader,
	"partition_table":   PartitionTypePartitionTable,
	"nvdata":            PartitionTypeNvData,
	"data":              PartitionTypeData,
	"mbr":               PartitionTypeMbr,
	"ebr":               PartitionTypeEbr,
	"gp1":               PartitionTypeGP1,
	"gpt":               PartitionTypeGPT,
	"bootloader_stage2": PartitionTypeBootloaderStage2,
	"os":                PartitionTypeOs,
	"fuse_bypass":       PartitionTypeFuseBypass,
	"config_table":      PartitionTypeConfigTable,
	"wb0":               PartitionTypeWB0,
}

// ParsePartitionType resolves a configuration-file type name.
func ParsePartitionType(name string) (PartitionType, error) {
	if t, ok := partitionTypeNames[name]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown partition type %q", name)
}

func (t PartitionType) String() string {
	for name, v := range partitionTypeNames {
		if v == t {
			return name
		}
	}
	return fmt.Sprintf("type %d", uint32(t))
}

// IsBootloader reports whether partitions of this type hold a bootloader image.
func (t PartitionType) IsBootloader() bool {
	return t == PartitionTypeBootloader || t == PartitionTypeBootloaderStage2
}

// FileSystem is the filesystem type the device formats a partition with.
type FileSystem uint32

const (
	FileSystemBasic    FileSystem = 1
	FileSystemExternal FileSystem = 0x40000000
)

// AllocationPolicy controls where the device places a partition.
type AllocationPolicy uint32

const (
	AllocationNone AllocationPolicy = iota + 1
	AllocationAbsolute
	AllocationSequential
)

// DeviceType is a storage device class.
type DeviceType uint32

const (
	DeviceNand DeviceType = iota + 1
	DeviceEmmc
	DeviceSpi
	DeviceIde
	DeviceNandX16
	DeviceSnor
	DeviceMuxOneNand
	DeviceMobileLbaNand
	DeviceUsb3
	DeviceSata
)

var deviceTypeNames = map[string]DeviceType{
	"nand":          DeviceNand,
	"emmc":          DeviceEmmc,
	"sdmmc":         DeviceEmmc,
	"spi":           DeviceSpi,
	"ide":           DeviceIde,
	"nand_x16":      DeviceNandX16,
	"snor":          DeviceSnor,
	"muxonenand":    DeviceMuxOneNand,
	"mobilelbanand": DeviceMobileLbaNand,
	"usb3":          DeviceUsb3,
	"sata":          DeviceSata,
}

// ParseDeviceType resolves a configuration-file device name.
func ParseDeviceType(name string) (DeviceType, error) {
	if t, ok := deviceTypeNames[name]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown device type %q", name)
}

// BctSection selects the part of the BCT rewritten by UpdateBct.
type BctSection uint32

const (
	BctSectionNone BctSection = iota
	BctSectionSdram
	BctSectionDevParam
	BctSectionBootDevInfo
	BctSectionBlInfo
)

// ParseBctSection resolves an updatebct section name such as "SDRAM" or "blinfo".
func ParseBctSection(name string) (BctSection, error) {
	switch name {
	case "sdram", "SDRAM":
		return BctSectionSdram, nil
	case "devparam", "DEVPARAM":
		return BctSectionDevParam, nil
	case "bootdevinfo", "BOOTDEVINFO":
		return BctSectionBootDevInfo, nil
	case "blinfo", "BLINFO":
		return BctSectionBlInfo, nil
	}
	return BctSectionNone, fmt.Errorf("unknown bct section %q", name)
}

func (s BctSection) String() string {
	switch s {
	case BctSectionSdram:
		return "SDRAM"
	case BctSectionDevParam:
		return "DEVPARAM"
	case BctSectionBootDevInfo:
		return "BOOTDEVINFO"
	case BctSectionBlInfo:
		return "BLINFO"
	default:
		return "NONE"
	}
}

// ResetType selects what the device does after a Reset command.
type ResetType uint32

const (
	ResetRecoveryMode ResetType = iota + 1
	ResetNormalBoot
)

// OperatingMode is the fuse operating mode reported in platform info.
type OperatingMode uint32

const (
	OperatingModePreproduction OperatingMode = iota + 1
	OperatingModeFailureAnalysis
	OperatingModeNvProduction
	OperatingModeOdmProductionSecure
	OperatingModeOdmProductionOpen
)

func (m OperatingMode) String() string {
	switch m {
	case OperatingModePreproduction:
		return "pre-production"
	case OperatingModeFailureAnalysis:
		return "failure analysis"
	case OperatingModeNvProduction:
		return "nv production"
	case OperatingModeOdmProductionSecure:
		return "odm production secure"
	case OperatingModeOdmProductionOpen:
		return "odm production open"
	default:
		return fmt.Sprintf("mode %d", uint32(m))
	}
}
