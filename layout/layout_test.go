package layout

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-nvflash/partition"
	"github.com/moffa90/go-nvflash/protocol"
)

var testGeometry = protocol.DevInfo{BytesPerSector: 512, SectorsPerBlock: 1, TotalBlocks: 100000}

func threePartitions() []*partition.Partition {
	return []*partition.Partition{
		{Name: "PT", ID: 2, Size: 512 * 512},
		{Name: "BCT", ID: 3, Size: 256 * 512},
		{Name: "APP", ID: 4, AllocationAttribute: partition.AllocRemaining},
	}
}

func TestComputeEndToEnd(t *testing.T) {
	extents, err := Compute(threePartitions(), testGeometry)
	require.NoError(t, err)
	require.Len(t, extents, 3)

	var starts []uint64
	for _, e := range extents {
		starts = append(starts, e.Start)
	}
	assert.Equal(t, []uint64{0, 512, 768}, starts)
	assert.Equal(t, uint64(100000-768), extents[2].Count)
	assert.Equal(t, "APP", extents[2].Name)
	assert.Equal(t, uint32(4), extents[2].ID)
}

func TestComputeMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	geometries := []protocol.DevInfo{
		{BytesPerSector: 512, SectorsPerBlock: 1, TotalBlocks: 1 << 20},
		{BytesPerSector: 512, SectorsPerBlock: 8, TotalBlocks: 1 << 18},
		{BytesPerSector: 4096, SectorsPerBlock: 64, TotalBlocks: 4096},
	}

	for _, geom := range geometries {
		for round := 0; round < 50; round++ {
			n := 1 + rng.Intn(12)
			parts := make([]*partition.Partition, n)
			for i := range parts {
				parts[i] = &partition.Partition{Name: "P", ID: uint32(i + 1), Size: uint64(rng.Intn(1 << 20))}
			}
			if rng.Intn(2) == 0 {
				parts[rng.Intn(n)].AllocationAttribute = partition.AllocRemaining
			}

			extents, err := Compute(parts, geom)
			require.NoError(t, err)

			var prev uint64
			for i, e := range extents {
				assert.GreaterOrEqual(t, e.Start, prev, "start of %d", i)
				assert.GreaterOrEqual(t, e.Count*uint64(geom.BytesPerSector), parts[i].Size, "size of %d", i)
				if i > 0 {
					assert.Equal(t, extents[i-1].Start+extents[i-1].Count, e.Start)
				}
				prev = e.Start
			}
		}
	}
}

func TestComputeRemainingCapacity(t *testing.T) {
	parts := []*partition.Partition{
		{Name: "BCT", ID: 2, Size: 1000},
		{Name: "UDA", ID: 3, AllocationAttribute: partition.AllocRemaining},
		{Name: "GPT", ID: 4, Size: 4096},
	}
	geom := protocol.DevInfo{BytesPerSector: 512, SectorsPerBlock: 4, TotalBlocks: 1000}

	extents, err := Compute(parts, geom)
	require.NoError(t, err)

	// 1000 bytes round to one 2048-byte unit, 4096 bytes to two.
	assert.Equal(t, uint64(4), extents[0].Count)
	assert.Equal(t, uint64(8), extents[2].Count)
	assert.Equal(t, uint64(4000-4-8), extents[1].Count)
	assert.Equal(t, uint64(4000), extents[2].Start+extents[2].Count)
}

func TestComputeErrors(t *testing.T) {
	tests := []struct {
		name   string
		parts  []*partition.Partition
		geom   protocol.DevInfo
		errMsg string
	}{
		{
			name:   "no capacity",
			parts:  threePartitions(),
			geom:   protocol.DevInfo{},
			errMsg: "no capacity",
		},
		{
			name: "two remaining partitions",
			parts: []*partition.Partition{
				{Name: "A", ID: 1, AllocationAttribute: partition.AllocRemaining},
				{Name: "B", ID: 2, AllocationAttribute: partition.AllocRemaining},
			},
			geom:   testGeometry,
			errMsg: "A already takes the remaining capacity",
		},
		{
			name:   "too large",
			parts:  []*partition.Partition{{Name: "A", ID: 1, Size: 100001 * 512}},
			geom:   testGeometry,
			errMsg: "partitions need 100001 sectors",
		},
		{
			name: "remaining undersized",
			parts: []*partition.Partition{
				{Name: "A", ID: 1, Size: 99999 * 512},
				{Name: "B", ID: 2, Size: 4 * 512, AllocationAttribute: partition.AllocRemaining},
			},
			geom:   testGeometry,
			errMsg: "1 sectors left",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.parts, tt.geom)
			var le *LayoutError
			require.ErrorAs(t, err, &le)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

// fakeSource serves a fixed geometry and table and counts calls.
type fakeSource struct {
	geom  protocol.DevInfo
	table []protocol.PartitionEntry
	err   error

	calls int
	ref   Extent
}

func (f *fakeSource) DeviceGeometry(ctx context.Context) (protocol.DevInfo, error) {
	f.calls++
	return f.geom, f.err
}

func (f *fakeSource) DevicePartitionTable(ctx context.Context, ref Extent) ([]protocol.PartitionEntry, error) {
	f.calls++
	f.ref = ref
	return f.table, nil
}

func deviceTable(t *testing.T, parts []*partition.Partition) []protocol.PartitionEntry {
	t.Helper()
	extents, err := Compute(parts, testGeometry)
	require.NoError(t, err)
	var out []protocol.PartitionEntry
	for _, e := range extents {
		out = append(out, protocol.PartitionEntry{
			ID:                 e.ID,
			Name:               protocol.EntryName(e.Name),
			StartLogicalSector: uint32(e.Start),
			NumLogicalSectors:  uint32(e.Count),
			BytesPerSector:     512,
		})
	}
	return out
}

func testDevices() []*partition.Device {
	return []*partition.Device{{Type: protocol.DeviceEmmc, Instance: 3, Partitions: threePartitions()}}
}

func TestCheckEmptySkipList(t *testing.T) {
	src := &fakeSource{geom: testGeometry}

	res, err := Check(context.Background(), src, testDevices(), nil)
	require.NoError(t, err)
	assert.False(t, res.FormatPerPartition)
	assert.Zero(t, src.calls, "no device traffic for an empty skip list")
}

func TestCheckMatchingLayout(t *testing.T) {
	devs := testDevices()
	src := &fakeSource{geom: testGeometry, table: deviceTable(t, devs[0].Partitions)}

	res, err := Check(context.Background(), src, devs, []string{"APP", "typo"})
	require.NoError(t, err)
	assert.True(t, res.FormatPerPartition)
	assert.Equal(t, []string{"typo"}, res.UnknownSkips)
	assert.Equal(t, Extent{Name: "PT", ID: 2, Start: 0, Count: 512}, src.ref)
	assert.Len(t, res.Extents, 3)
}

func TestCheckMismatch(t *testing.T) {
	devs := testDevices()
	table := deviceTable(t, devs[0].Partitions)
	table[2].NumLogicalSectors -= 8

	src := &fakeSource{geom: testGeometry, table: table}
	_, err := Check(context.Background(), src, devs, []string{"APP"})

	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "APP", me.Partition)
	assert.Equal(t, uint64(99232), me.WantCount)
	assert.Equal(t, uint64(99224), me.DeviceCount)

	// Drift on a partition that is not skipped is not checked.
	_, err = Check(context.Background(), src, devs, []string{"BCT"})
	assert.NoError(t, err)
}

func TestCheckMissingOnDevice(t *testing.T) {
	devs := testDevices()
	src := &fakeSource{geom: testGeometry, table: deviceTable(t, devs[0].Partitions)[:2]}

	_, err := Check(context.Background(), src, devs, []string{"APP"})
	var me *MismatchError
	assert.ErrorAs(t, err, &me)
}

func TestCheckNoPartitionTable(t *testing.T) {
	devs := []*partition.Device{{
		Type:       protocol.DeviceEmmc,
		Partitions: []*partition.Partition{{Name: "BCT", ID: 2, Size: 4096}},
	}}
	src := &fakeSource{geom: testGeometry}

	_, err := Check(context.Background(), src, devs, []string{"BCT"})
	assert.ErrorIs(t, err, ErrNoPartitionTable)
}

func TestCheckGeometryError(t *testing.T) {
	boom := errors.New("usb stalled")
	src := &fakeSource{err: boom}

	_, err := Check(context.Background(), src, testDevices(), []string{"APP"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "unable to retrieve device info")
}
