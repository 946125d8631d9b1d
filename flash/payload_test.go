package flash

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-nvflash/fusebypass"
	"github.com/moffa90/go-nvflash/nct"
	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
	"github.com/moffa90/go-nvflash/transport"
)

const testPolicy = `<sku name:sku id; T40:0x8; T50:0x9>

<policy:default skus>
<board:1780; board sku:1000; default sku:0x8>
</policy:default skus>

<policy:supported skus>
<board:1780; skus:0x9,0x8>
</policy:supported skus>

<sku:0x9; cpu_speedo_min:2000,0,0; cpu_speedo_max:2500,0,0;
 fuse; offset:0x100; value:0x1; fuse; offset:0x24; value:0x9>
<sku:0x8; cpu_speedo_min:1500; cpu_speedo_max:2100;
 fuse; offset:0x100; value:0x1; fuse; offset:0x24; value:0x8>
`

const testNct = `<vid:0x955; pid:0x7030; revision:3; version:0x00010000>
<offset:0x40>
<name:SerialNo; idx:0; tag:0x80; data:SN0421612>
<name:factory; idx:3; tag:0x40; data:0xdeadbeef>
`

// substitutionFixture extends f with fuse-bypass, configuration-table and
// DTB partitions placed ahead of the remaining-capacity partition.
type substitutionFixture struct {
	*fixture
	policy string
	nctTxt string
	nctBin []byte
	dtbOld []byte
	dtbNew []byte
	dtbArg string
}

func newSubstitutionFixture(t *testing.T, nctFilename bool) *substitutionFixture {
	t.Helper()
	sf := &substitutionFixture{
		fixture: newFixture(t),
		nctBin:  pattern(300, 11),
		dtbOld:  pattern(200, 21),
		dtbNew:  pattern(500, 31),
	}
	sf.policy = writeFile(t, sf.dir, "fuse_bypass.txt", []byte(testPolicy))
	sf.nctTxt = writeFile(t, sf.dir, "nct.txt", []byte(testNct))
	nctBin := writeFile(t, sf.dir, "nct.bin", sf.nctBin)
	dtbOld := writeFile(t, sf.dir, "board.dtb", sf.dtbOld)
	sf.dtbArg = writeFile(t, sf.dir, "override.dtb", sf.dtbNew)

	nctPart := &partition.Partition{
		Name: "NCT", ID: 6, Type: protocol.PartitionTypeConfigTable,
		Allocation: protocol.AllocationSequential, Size: 4096,
	}
	if nctFilename {
		nctPart.Filename = nctBin
	}

	parts := clonePartitions(sf.devs[0].Partitions)
	extended := make([]*partition.Partition, 0, len(parts)+3)
	extended = append(extended, parts[:3]...)
	extended = append(extended,
		&partition.Partition{
			Name: "FBP", ID: 7, Type: protocol.PartitionTypeFuseBypass,
			Allocation: protocol.AllocationSequential, Size: 4096,
		},
		nctPart,
		&partition.Partition{
			Name: partition.DtbName, ID: 8, Type: protocol.PartitionTypeData,
			Allocation: protocol.AllocationSequential, Size: 4096, Filename: dtbOld,
		},
	)
	extended = append(extended, parts[3:]...)
	sf.devs[0].Partitions = extended
	return sf
}

func clonePartitions(parts []*partition.Partition) []*partition.Partition {
	return append([]*partition.Partition(nil), parts...)
}

// preproductionBoard is an unfused board that qualifies for SKU 0x8 only.
func preproductionBoard() []transport.LoopbackOption {
	return []transport.LoopbackOption{
		transport.WithPlatformInfo(protocol.PlatformInfo{
			ChipUID:       protocol.ChipUID{ECID0: 0x1c0ffee},
			OperatingMode: protocol.OperatingModePreproduction,
			BoardID:       protocol.BoardID{BoardNo: 1780, SkuType: 1000},
		}),
		transport.WithBoardDetails(protocol.BoardDetails{
			CpuSpeedo: [3]uint32{1800, 5, 5},
			CpuIddq:   1000,
			SocSpeedo: [3]uint32{50, 500, 500},
		}),
	}
}

func TestCreateSubstitutesPayloads(t *testing.T) {
	sf := newSubstitutionFixture(t, false)
	l := transport.NewLoopback(preproductionBoard()...)

	s := sf.session(l,
		WithFuseBypass(fusebypass.Request{Target: fusebypass.AutoSku, PolicyFile: sf.policy}),
		WithNctFile(sf.nctTxt),
		WithDtbFile(sf.dtbArg),
	)
	require.NoError(t, s.Run(context.Background(), []Op{&Create{}}))

	t.Run("fuse bypass", func(t *testing.T) {
		d, ok := s.FuseBypass()
		require.True(t, ok)
		assert.Equal(t, uint32(0x8), d.Info.SkuID)
		assert.Equal(t, uint32(0x8), s.Platform().ChipSku, "selected sku is mirrored into platform info")
		assert.Equal(t, 1, l.Count(protocol.KindGetBoardDetails))

		want, err := d.Info.MarshalBinary()
		require.NoError(t, err)
		got, ok := l.PartitionData("FBP")
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("nct built from text", func(t *testing.T) {
		table, err := nct.Parse(sf.nctTxt)
		require.NoError(t, err)
		want, err := table.MarshalBinary()
		require.NoError(t, err)

		got, ok := l.PartitionData("NCT")
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("dtb override", func(t *testing.T) {
		got, ok := l.PartitionData(partition.DtbName)
		require.True(t, ok)
		assert.Equal(t, sf.dtbNew, got)
	})

	assert.Equal(t, 5, l.Count(protocol.KindDownloadPartition))
}

func TestCreateWithoutSubstitutions(t *testing.T) {
	sf := newSubstitutionFixture(t, true)
	l := transport.NewLoopback(preproductionBoard()...)
	logger := &MockLogger{}

	s := sf.session(l, WithLogger(logger))
	require.NoError(t, s.Run(context.Background(), []Op{&Create{}}))

	_, ok := s.FuseBypass()
	assert.False(t, ok)
	assert.Zero(t, s.Platform().ChipSku)
	assert.Equal(t, 0, l.Count(protocol.KindGetBoardDetails))

	got, ok := l.PartitionData("FBP")
	require.True(t, ok, "partition is created")
	assert.Empty(t, got, "no bypass payload is downloaded")
	assert.True(t, contains(logger.debugMsgs, "no fuse bypass selected"))

	got, _ = l.PartitionData("NCT")
	assert.Equal(t, sf.nctBin, got, "a binary table is sent as is")

	got, _ = l.PartitionData(partition.DtbName)
	assert.Equal(t, sf.dtbOld, got, "configured dtb is used without an override")

	assert.Equal(t, 4, l.Count(protocol.KindDownloadPartition))
}

func TestCreateFuseBypassNotApplicable(t *testing.T) {
	sf := newSubstitutionFixture(t, true)
	l := transport.NewLoopback() // production part
	logger := &MockLogger{}

	s := sf.session(l,
		WithLogger(logger),
		WithFuseBypass(fusebypass.Request{Target: fusebypass.AutoSku, PolicyFile: sf.policy}),
	)
	require.NoError(t, s.Run(context.Background(), []Op{&Create{}}))

	_, ok := s.FuseBypass()
	assert.False(t, ok)
	assert.True(t, contains(logger.infoMsgs, "fuse bypass not applied"))
	got, _ := l.PartitionData("FBP")
	assert.Empty(t, got)
}
