package protocol

import "fmt"

// ChipUID is the 128-bit unique id of the chip, lowest word first.
type ChipUID struct {
	ECID0 uint32
	ECID1 uint32
	ECID2 uint32
	ECID3 uint32
}

// String formats the id most significant word first, as printed by the boot ROM.
func (u ChipUID) String() string {
	return fmt.Sprintf("0x%08x%08x%08x%08x", u.ECID3, u.ECID2, u.ECID1, u.ECID0)
}

// ChipID identifies the chip family and revision.
type ChipID struct {
	ID    uint16
	Major uint8
	Minor uint8
}

// BoardID is the board identification read from the board EEPROM.
type BoardID struct {
	BoardNo  uint32
	BoardFab uint32
	MemType  uint32
	Freq     uint32
	SkuType  uint32
}

// PlatformInfo is the snapshot returned by GetPlatformInfo.
type PlatformInfo struct {
	// ChipUID is the unique id of the chip
	ChipUID ChipUID

	// ChipID is the chip family and revision
	ChipID ChipID

	// ChipSku is the SKU fuse value; zero means not yet fused
	ChipSku uint32

	// BootRomVersion is the boot ROM version
	BootRomVersion uint32

	// SecondaryBootDevice is the device the boot ROM boots from
	SecondaryBootDevice DeviceType

	// OperatingMode is the fuse operating mode
	OperatingMode OperatingMode

	// DeviceConfigStrap is the boot device strap configuration
	DeviceConfigStrap uint32

	// DeviceConfigFuse is the boot device fuse configuration
	DeviceConfigFuse uint32

	// SdramConfigStrap is the SDRAM strap configuration
	SdramConfigStrap uint32

	SbkBurned   bool
	DkBurned    bool
	JtagEnabled bool

	// BoardID identifies the board
	BoardID BoardID

	// WarrantyFuse is set once a warranty fuse is blown
	WarrantyFuse uint32
}

// BoardDetails carries the electrical measurements used by fuse bypass.
type BoardDetails struct {
	BoardInfo uint32
	CpuSpeedo [3]uint32
	CpuIddq   uint32
	SocSpeedo [3]uint32
	SocIddq   uint32
	ChipSku   uint32
}

// DevInfo is the block geometry of the boot device.
type DevInfo struct {
	BytesPerSector  uint32
	SectorsPerBlock uint32
	TotalBlocks     uint32
}

// SectorMultiple returns the allocation unit in bytes.
func (d DevInfo) SectorMultiple() uint64 {
	return uint64(d.BytesPerSector) * uint64(d.SectorsPerBlock)
}

// TotalSectors returns the device capacity in sectors.
func (d DevInfo) TotalSectors() uint64 {
	return uint64(d.SectorsPerBlock) * uint64(d.TotalBlocks)
}

// BdkResult is one test result decoded from a RunBdkTest reply stream.
type BdkResult struct {
	Suite   string
	Test    string
	Status  string
	Elapsed string
	Message string
}
