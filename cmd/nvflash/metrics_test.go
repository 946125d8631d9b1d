package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-nvflash/protocol"
	"github.com/moffa90/go-nvflash/transport"
)

func TestInstrumentedTransport(t *testing.T) {
	ctx := context.Background()
	m := newSessionMetrics()
	lb := transport.NewLoopback()
	lb.FailStatus(protocol.KindSync, 2, protocol.StatusInvalidState, "")

	tr := m.instrument(lb)
	require.NoError(t, tr.Open(ctx, transport.ModeSimulation, 0))

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.CommandSend(ctx, &protocol.Sync{}))
		_, err := tr.CommandReceive(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, tr.CommandSend(ctx, &protocol.DownloadBct{Length: 16}))
	require.NoError(t, tr.DataSend(ctx, make([]byte, 10)))
	require.NoError(t, tr.DataSend(ctx, make([]byte, 6)))
	_, err := tr.CommandReceive(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("sync")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues(protocol.KindDownloadBct.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("invalid state")))
	assert.Equal(t, 16.0, testutil.ToFloat64(m.downloaded))
}

func TestInstrumentedDataSendError(t *testing.T) {
	m := newSessionMetrics()
	tr := m.instrument(transport.NewLoopback())

	// no data phase is open
	assert.Error(t, tr.DataSend(context.Background(), []byte{1, 2, 3}))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.downloaded))
}

func TestMetricsWrite(t *testing.T) {
	m := newSessionMetrics()
	m.observe("create", 30*time.Millisecond, nil)
	m.observe("verifypart", 5*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.opDuration))

	path := filepath.Join(t.TempDir(), "nvflash.prom")
	require.NoError(t, m.write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nvflash_op_duration_seconds_count{op="create",result="ok"} 1`)
	assert.Contains(t, string(data), `nvflash_op_duration_seconds_count{op="verifypart",result="error"} 1`)
}
