package protocol

// Command is a command together with its argument payload. There is one
// concrete type per command kind. Fields documented as output are filled in
// by the transport when the device replies to CommandSend.
type Command interface {
	Kind() Kind
}

// GetPlatformInfo asks for the platform snapshot.
type GetPlatformInfo struct {
	// Info is output
	Info PlatformInfo
}

// GetBct reads the BCT back. Length is output; the blob follows as data.
type GetBct struct {
	Length uint32
}

// GetBit reads the boot information table. Length is output.
type GetBit struct {
	Length uint32
}

// DownloadBct announces a BCT of Length bytes sent as data.
type DownloadBct struct {
	Length uint32
}

// SetBlHash sends the signed bootloader hash recorded in a secure blob.
type SetBlHash struct {
	BlIndex uint32
	Length  uint32
}

// DownloadBootloader announces the bootloader image sent as data.
type DownloadBootloader struct {
	Length     uint64
	Address    uint32
	EntryPoint uint32
}

// OdmOptions sends the ODM data word.
type OdmOptions struct {
	Options uint32
}

// SetBootDevType selects the secondary boot device type.
type SetBootDevType struct {
	DevType DeviceType
}

// SetBootDevConfig sets the boot device configuration word.
type SetBootDevConfig struct {
	DevConfig uint32
}

// Status is the reply the device sends after most commands.
type Status struct {
	Code    StatusCode
	Message string
	Flags   uint32
}

// SetDevice selects the storage device subsequent partitions are created on.
type SetDevice struct {
	Type     DeviceType
	Instance uint32
}

// StartPartitionConfiguration opens a partition configuration of NumPartitions.
type StartPartitionConfiguration struct {
	NumPartitions uint32
}

// EndPartitionConfiguration closes the partition configuration.
type EndPartitionConfiguration struct{}

// FormatPartition formats one partition.
type FormatPartition struct {
	ID uint32
}

// DownloadPartition announces Length bytes of partition data.
type DownloadPartition struct {
	ID     uint32
	Length uint64
}

// QueryPartition asks the device for the placement of a partition.
type QueryPartition struct {
	ID uint32

	// Size, Address and PartType are output
	Size     uint64
	Address  uint64
	PartType PartitionType
}

// CreatePartition creates one partition inside a partition configuration.
type CreatePartition struct {
	Name                string
	Size                uint64
	Address             uint32
	ID                  uint32
	Type                PartitionType
	FileSystem          FileSystem
	AllocationPolicy    AllocationPolicy
	FileSystemAttribute uint32
	PartitionAttribute  uint32
	AllocationAttribute uint32
	PercentReserved     uint32
}

// ReadPartition reads Length bytes of a partition starting at Offset.
type ReadPartition struct {
	ID     uint32
	Offset uint64

	// Length is output
	Length uint64
}

// SetBootPartition marks a partition bootable.
type SetBootPartition struct {
	ID          uint32
	LoadAddress uint32
	EntryPoint  uint32
	Version     uint32
	Slot        uint32
}

// ReadPartitionTable reads the partition table stored on the device.
// StartLogicalSector and NumLogicalSectors locate the table partition.
type ReadPartitionTable struct {
	StartLogicalSector uint32
	NumLogicalSectors  uint32
	ReadBctFromSD      bool

	// Length is output
	Length uint64
}

// DeleteAll erases all partitions of the current device.
type DeleteAll struct{}

// FormatAll formats all partitions in one device-side operation.
type FormatAll struct{}

// Obliterate erases the whole storage device.
type Obliterate struct{}

// OdmCommand is an ODM extension command.
type OdmCommand struct {
	Command uint32
	Length  uint32
}

// Go tells the device to continue booting.
type Go struct{}

// Sync flushes device state.
type Sync struct{}

// VerifyPartitionEnable marks a partition for verification after download.
type VerifyPartitionEnable struct {
	ID uint32
}

// VerifyPartition verifies a partition previously marked for verification.
type VerifyPartition struct {
	ID uint32
}

// EndVerifyPartition ends the verification pass.
type EndVerifyPartition struct{}

// RawDeviceRead reads sectors directly from the storage device.
type RawDeviceRead struct {
	StartSector uint32
	NumSectors  uint32
}

// RawDeviceWrite writes sectors directly to the storage device.
type RawDeviceWrite struct {
	StartSector uint32
	NumSectors  uint32
}

// UpdateBct rewrites one section of the BCT from Length bytes of data.
type UpdateBct struct {
	Length      uint32
	Section     BctSection
	PartitionID uint32
}

// GetDevInfo asks for the block geometry.
type GetDevInfo struct {
	// Info is output
	Info DevInfo
}

// RunBdkTest runs a board diagnostic suite.
type RunBdkTest struct {
	Suite    string
	Argument string
	Instance uint32
	MemAddr  uint32
	Reserved uint32

	// NumTests is output
	NumTests uint32
}

// FuseWrite announces Length bytes of fuse data.
type FuseWrite struct {
	Length uint32
}

// SkipSync cancels the pending sync.
type SkipSync struct{}

// Reset resets the device after Delay milliseconds.
type Reset struct {
	Type  ResetType
	Delay uint32
}

// GetBoardDetails reads the electrical measurements of the board.
type GetBoardDetails struct {
	// Details is output
	Details BoardDetails
}

// ReadNctItem reads one NCT entry. Data is output.
type ReadNctItem struct {
	Index uint32
	Data  []byte
}

// WriteNctItem writes one NCT entry.
type WriteNctItem struct {
	Index uint32
	Type  uint32
	Data  []byte
}

func (*GetPlatformInfo) Kind() Kind             { return KindGetPlatformInfo }
func (*GetBct) Kind() Kind                      { return KindGetBct }
func (*GetBit) Kind() Kind                      { return KindGetBit }
func (*DownloadBct) Kind() Kind                 { return KindDownloadBct }
func (*SetBlHash) Kind() Kind                   { return KindSetBlHash }
func (*DownloadBootloader) Kind() Kind          { return KindDownloadBootloader }
func (*OdmOptions) Kind() Kind                  { return KindOdmOptions }
func (*SetBootDevType) Kind() Kind              { return KindSetBootDevType }
func (*SetBootDevConfig) Kind() Kind            { return KindSetBootDevConfig }
func (*Status) Kind() Kind                      { return KindStatus }
func (*SetDevice) Kind() Kind                   { return KindSetDevice }
func (*StartPartitionConfiguration) Kind() Kind { return KindStartPartitionConfiguration }
func (*EndPartitionConfiguration) Kind() Kind   { return KindEndPartitionConfiguration }
func (*FormatPartition) Kind() Kind             { return KindFormatPartition }
func (*DownloadPartition) Kind() Kind           { return KindDownloadPartition }
func (*QueryPartition) Kind() Kind              { return KindQueryPartition }
func (*CreatePartition) Kind() Kind             { return KindCreatePartition }
func (*ReadPartition) Kind() Kind               { return KindReadPartition }
func (*SetBootPartition) Kind() Kind            { return KindSetBootPartition }
func (*ReadPartitionTable) Kind() Kind          { return KindReadPartitionTable }
func (*DeleteAll) Kind() Kind                   { return KindDeleteAll }
func (*FormatAll) Kind() Kind                   { return KindFormatAll }
func (*Obliterate) Kind() Kind                  { return KindObliterate }
func (*OdmCommand) Kind() Kind                  { return KindOdmCommand }
func (*Go) Kind() Kind                          { return KindGo }
func (*Sync) Kind() Kind                        { return KindSync }
func (*VerifyPartitionEnable) Kind() Kind       { return KindVerifyPartitionEnable }
func (*VerifyPartition) Kind() Kind             { return KindVerifyPartition }
func (*EndVerifyPartition) Kind() Kind          { return KindEndVerifyPartition }
func (*RawDeviceRead) Kind() Kind               { return KindRawDeviceRead }
func (*RawDeviceWrite) Kind() Kind              { return KindRawDeviceWrite }
func (*UpdateBct) Kind() Kind                   { return KindUpdateBct }
func (*GetDevInfo) Kind() Kind                  { return KindGetDevInfo }
func (*RunBdkTest) Kind() Kind                  { return KindRunBdkTest }
func (*FuseWrite) Kind() Kind                   { return KindFuseWrite }
func (*SkipSync) Kind() Kind                    { return KindSkipSync }
func (*Reset) Kind() Kind                       { return KindReset }
func (*GetBoardDetails) Kind() Kind             { return KindGetBoardDetails }
func (*ReadNctItem) Kind() Kind                 { return KindReadNctItem }
func (*WriteNctItem) Kind() Kind                { return KindWriteNctItem }
