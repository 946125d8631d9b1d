package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-nvflash/protocol"
)

func waitOk(t *testing.T, l *Loopback) {
	t.Helper()
	reply, err := l.CommandReceive(context.Background())
	require.NoError(t, err)
	status, ok := reply.(*protocol.Status)
	require.True(t, ok)
	require.Equal(t, protocol.StatusOk, status.Code, status.Message)
}

func createLayout(t *testing.T, l *Loopback, parts ...protocol.CreatePartition) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.CommandSend(ctx, &protocol.StartPartitionConfiguration{NumPartitions: uint32(len(parts))}))
	waitOk(t, l)
	require.NoError(t, l.CommandSend(ctx, &protocol.SetDevice{Type: protocol.DeviceEmmc, Instance: 3}))
	waitOk(t, l)
	for i := range parts {
		require.NoError(t, l.CommandSend(ctx, &parts[i]))
		waitOk(t, l)
	}
	require.NoError(t, l.CommandSend(ctx, &protocol.EndPartitionConfiguration{}))
	waitOk(t, l)
}

func TestLoopbackPlacement(t *testing.T) {
	l := NewLoopback(WithGeometry(protocol.DevInfo{BytesPerSector: 512, SectorsPerBlock: 1, TotalBlocks: 100000}))
	require.NoError(t, l.Open(context.Background(), ModeSimulation, 0))

	createLayout(t, l,
		protocol.CreatePartition{Name: "PT", ID: 2, Size: 512 * 512, Type: protocol.PartitionTypePartitionTable},
		protocol.CreatePartition{Name: "BCT", ID: 3, Size: 256 * 512, Type: protocol.PartitionTypeBct},
		protocol.CreatePartition{Name: "APP", ID: 4, Size: 1024, Type: protocol.PartitionTypeData, AllocationAttribute: 0x808},
	)

	table := l.Table()
	require.Len(t, table, 3)
	assert.Equal(t, uint32(0), table[0].StartLogicalSector)
	assert.Equal(t, uint32(512), table[1].StartLogicalSector)
	assert.Equal(t, uint32(768), table[2].StartLogicalSector)
	assert.Equal(t, uint32(99232), table[2].NumLogicalSectors)
}

func TestLoopbackDownloadAndRead(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback()
	require.NoError(t, l.Open(ctx, ModeSimulation, 0))
	createLayout(t, l, protocol.CreatePartition{Name: "APP", ID: 7, Size: 8192, Type: protocol.PartitionTypeData})

	payload := []byte("kernel image")
	require.NoError(t, l.CommandSend(ctx, &protocol.DownloadPartition{ID: 7, Length: uint64(len(payload))}))
	require.NoError(t, l.DataSend(ctx, payload[:5]))
	require.NoError(t, l.DataSend(ctx, payload[5:]))
	waitOk(t, l)

	read := &protocol.ReadPartition{ID: 7}
	require.NoError(t, l.CommandSend(ctx, read))
	require.Equal(t, uint64(len(payload)), read.Length)
	buf := make([]byte, read.Length)
	n, err := l.DataReceive(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
	waitOk(t, l)
}

func TestLoopbackFaults(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback()
	require.NoError(t, l.Open(ctx, ModeSimulation, 0))

	l.FailStatus(protocol.KindSync, 2, protocol.StatusMassStorageFailure, "flush failed")
	sendErr := errors.New("usb stall")
	l.FailSend(protocol.KindGo, 1, sendErr)

	require.NoError(t, l.CommandSend(ctx, &protocol.Sync{}))
	waitOk(t, l)

	require.NoError(t, l.CommandSend(ctx, &protocol.Sync{}))
	reply, err := l.CommandReceive(ctx)
	require.NoError(t, err)
	status := reply.(*protocol.Status)
	assert.Equal(t, protocol.StatusMassStorageFailure, status.Code)
	assert.Equal(t, "flush failed", status.Message)

	assert.ErrorIs(t, l.CommandSend(ctx, &protocol.Go{}), sendErr)
	assert.Equal(t, 2, l.Count(protocol.KindSync))
}

func TestLoopbackNoTable(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback()

	require.NoError(t, l.CommandSend(ctx, &protocol.ReadPartitionTable{}))
	reply, err := l.CommandReceive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPartitionTableRequired, reply.(*protocol.Status).Code)

	_, err = l.CommandReceive(ctx)
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestLoopbackUnexpectedData(t *testing.T) {
	l := NewLoopback()
	assert.Error(t, l.DataSend(context.Background(), []byte{1}))
}
