package flash

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-nvflash/nct"
	"github.com/moffa90/go-nvflash/protocol"
	"github.com/moffa90/go-nvflash/transport"
)

func TestValidate(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.dir, "missing.bin")

	tests := []struct {
		name    string
		options []Option
		ops     []Op
		wantErr string
	}{
		{
			name:    "download with setbct",
			options: []Option{WithSetBct(true)},
			ops:     []Op{&Download{Partition: "EBT"}},
			wantErr: "setbct is not supported",
		},
		{
			name:    "download missing file",
			ops:     []Op{&Download{Partition: "EBT", File: missing}},
			wantErr: "missing.bin",
		},
		{
			name:    "read without output",
			ops:     []Op{&Read{Partition: "EBT"}},
			wantErr: "output file name required",
		},
		{
			name:    "raw read without count",
			ops:     []Op{&RawRead{File: "out.bin"}},
			wantErr: "sector count must be positive",
		},
		{
			name:    "format without partition",
			ops:     []Op{&FormatPartition{}},
			wantErr: "partition required",
		},
		{
			name:    "verify without partition",
			ops:     []Op{&VerifyPartition{}},
			wantErr: "partition required",
		},
		{
			name:    "updatebct without section",
			ops:     []Op{&UpdateBct{}},
			wantErr: "bct section required",
		},
		{
			name:    "updatebct with setbct",
			options: []Option{WithSetBct(true)},
			ops:     []Op{&UpdateBct{Section: protocol.BctSectionSdram}},
			wantErr: "not supported at the same time",
		},
		{
			name:    "blinfo without hash",
			ops:     []Op{&UpdateBct{Section: protocol.BctSectionBlInfo}, &Download{Partition: "EBT"}},
			wantErr: "bootloader hash",
		},
		{
			name:    "blinfo without download",
			options: []Option{WithBlobHash([]byte{1, 2, 3, 4})},
			ops:     []Op{&UpdateBct{Section: protocol.BctSectionBlInfo}},
			wantErr: "BLINFO section only supported with download command",
		},
		{
			name:    "blinfo with data partition download",
			options: []Option{WithBlobHash([]byte{1, 2, 3, 4})},
			ops:     []Op{&UpdateBct{Section: protocol.BctSectionBlInfo}, &Download{Partition: "APP"}},
			wantErr: "BLINFO section only supported with download command",
		},
		{
			name:    "fuse file missing",
			ops:     []Op{&FuseWrite{File: missing}},
			wantErr: "fusewrite",
		},
		{
			name:    "nct value not a number",
			ops:     []Op{&WriteNctItem{Index: 1, Type: nct.Tag1BSingle, Value: "abc"}},
			wantErr: "writenctitem",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := transport.NewLoopback()
			err := f.session(l, tt.options...).Run(context.Background(), tt.ops)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, l.Sent(), "validation fails before any traffic")
		})
	}
}

func TestUsageErrorType(t *testing.T) {
	l := transport.NewLoopback()
	s := New(l, WithMode(transport.ModeSimulation, 0))

	err := s.Run(context.Background(), []Op{&GetBct{}})
	var ue *UsageError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "getbct", ue.Op)
}

func TestDownloadAndRead(t *testing.T) {
	f := newFixture(t)
	l := f.created(t)
	img := writeFile(t, f.dir, "ebt2.bin", pattern(500, 11))
	out := filepath.Join(f.dir, "ebt.out")

	err := f.session(l).Run(context.Background(), []Op{
		&Download{Partition: "EBT", File: img},
		&Read{Partition: "EBT", File: out},
	})
	require.NoError(t, err)

	want, _ := os.ReadFile(img)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, l.Count(protocol.KindSync), "one sync per session")
}

func TestDownloadAll(t *testing.T) {
	f := newFixture(t)
	l := f.created(t)
	require.True(t, l.WritePartitionData("EBT", nil))

	require.NoError(t, f.session(l).Run(context.Background(), []Op{&Download{}}))
	got, _ := l.PartitionData("EBT")
	assert.Equal(t, f.ebt, got)
}

func TestDownloadUnconfiguredPartition(t *testing.T) {
	f := newFixture(t)
	l := f.created(t)
	img := writeFile(t, f.dir, "ebt.bin", pattern(100, 1))

	// a session without configuration resolves through the device table
	s := New(l, WithMode(transport.ModeSimulation, 0))
	require.NoError(t, s.Run(context.Background(), []Op{&Download{Partition: "EBT", File: img}}))
	assert.Equal(t, 2, l.Count(protocol.KindQueryPartition), "capacity and type come from the device")

	err := s.Run(context.Background(), []Op{&Download{Partition: "NOPE", File: img}})
	var nf *PartitionNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "NOPE", nf.Name)

	err = s.Run(context.Background(), []Op{&Download{Partition: "EBT"}})
	var ue *UsageError
	require.True(t, errors.As(err, &ue))
}

func TestRawReadWrite(t *testing.T) {
	f := newFixture(t)
	l := transport.NewLoopback()
	data := pattern(700, 13)
	in := writeFile(t, f.dir, "raw.in", data)
	out := filepath.Join(f.dir, "raw.out")

	err := New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{
		&RawWrite{Start: 10, Count: 2, File: in},
		&RawRead{Start: 10, Count: 2, File: out},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, got, 1024)
	assert.Equal(t, data, got[:700])
	assert.Equal(t, make([]byte, 324), got[700:], "padded with zeros")
	assert.Equal(t, 1, l.Count(protocol.KindSync))

	t.Run("too large", func(t *testing.T) {
		l := transport.NewLoopback()
		err := New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{
			&RawWrite{Start: 0, Count: 1, File: in},
		})
		var se *SizeError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, uint64(512), se.Capacity)
		assert.Equal(t, 0, l.Count(protocol.KindRawDeviceWrite))
	})
}

func TestFormatAll(t *testing.T) {
	tests := []struct {
		name       string
		opts       []transport.LoopbackOption
		wantAll    int
		wantSingle int
	}{
		{name: "supported", wantAll: 1, wantSingle: 0},
		{name: "fallback", opts: []transport.LoopbackOption{transport.WithFormatAllUnsupported()}, wantAll: 1, wantSingle: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			l := f.created(t, tt.opts...)

			require.NoError(t, f.session(l).Run(context.Background(), []Op{&FormatAll{}}))
			assert.Equal(t, tt.wantAll, l.Count(protocol.KindFormatAll))
			assert.Equal(t, tt.wantSingle, l.Count(protocol.KindFormatPartition))
			got, _ := l.PartitionData("EBT")
			assert.Empty(t, got)
		})
	}
}

func TestFormatPartition(t *testing.T) {
	f := newFixture(t)
	l := f.created(t)

	require.NoError(t, f.session(l).Run(context.Background(), []Op{&FormatPartition{Partition: "APP"}}))
	got, _ := l.PartitionData("APP")
	assert.Empty(t, got)
	got, _ = l.PartitionData("EBT")
	assert.Equal(t, f.ebt, got)
}

func TestGetBctAndBit(t *testing.T) {
	f := newFixture(t)
	bct := pattern(300, 21)
	l := transport.NewLoopback(transport.WithStoredBct(bct))
	l.SetBit([]byte("boot information table"))
	bctOut := filepath.Join(f.dir, "bct.out")
	bitOut := filepath.Join(f.dir, "bit.out")

	err := New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{
		&GetBct{File: bctOut},
		&GetBit{File: bitOut},
	})
	require.NoError(t, err)

	got, _ := os.ReadFile(bctOut)
	assert.Equal(t, bct, got)
	got, _ = os.ReadFile(bitOut)
	assert.Equal(t, "boot information table", string(got))
	assert.Equal(t, 0, l.Count(protocol.KindSync), "reads do not sync")
}

func TestSetBoot(t *testing.T) {
	f := newFixture(t)
	l := f.created(t)

	err := f.session(l).Run(context.Background(), []Op{
		&SetBoot{Partition: "EBT"},
		&SetBootDevType{Type: protocol.DeviceSpi},
		&SetBootDevConfig{Config: 0x21},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(4), l.BootPartition())
	assert.Equal(t, 1, l.Count(protocol.KindSetBootDevType))
	assert.Equal(t, 1, l.Count(protocol.KindSetBootDevConfig))
}

func TestGetPartitionTable(t *testing.T) {
	f := newFixture(t)
	l := f.created(t)
	out := filepath.Join(f.dir, "table.txt")

	op := &GetPartitionTable{File: out}
	require.NoError(t, New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{op}))

	require.Len(t, op.Entries, 4)
	assert.Equal(t, "APP", op.Entries[3].NameString())
	text, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Name=EBT")

	t.Run("custom encoder", func(t *testing.T) {
		var names []string
		op := &GetPartitionTable{File: filepath.Join(f.dir, "names.txt"), Encode: func(w io.Writer, entries []protocol.PartitionEntry) error {
			for _, e := range entries {
				names = append(names, e.NameString())
			}
			_, err := io.WriteString(w, strings.Join(names, "\n"))
			return err
		}}
		require.NoError(t, New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{op}))
		assert.Equal(t, []string{"BCT", "PT", "EBT", "APP"}, names)
	})

	t.Run("no table on device", func(t *testing.T) {
		err := New(transport.NewLoopback(), WithMode(transport.ModeSimulation, 0)).
			Run(context.Background(), []Op{&GetPartitionTable{}})
		var se *protocol.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, protocol.StatusPartitionTableRequired, se.Code)
	})
}

func TestNctItems(t *testing.T) {
	l := transport.NewLoopback()
	read := &ReadNctItem{Index: 7, Type: nct.TagStrSingle}

	err := New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{
		&WriteNctItem{Index: 7, Type: nct.TagStrSingle, Value: "SN0042"},
		read,
	})
	require.NoError(t, err)
	assert.Equal(t, "SN0042", read.Value)
	assert.Equal(t, 1, l.Count(protocol.KindSync))

	err = New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{&ReadNctItem{Index: 8}})
	var se *protocol.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, protocol.StatusNctReadFailed, se.Code)
}

func TestFuseWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fuses.txt", []byte("<reserved_odm0:0x12345678; sku:0x3>\n"))
	l := transport.NewLoopback()

	require.NoError(t, New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{&FuseWrite{File: path}}))

	fuses := l.Fuses()
	require.Len(t, fuses, 80)
	assert.Equal(t, "reserved_odm0", string(bytes.TrimRight(fuses[:32], "\x00")))
	assert.Equal(t, []byte{4, 0, 0, 0}, fuses[32:36])
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, fuses[36:40])
	assert.Equal(t, "sku", string(bytes.TrimRight(fuses[40:72], "\x00")))
	assert.Equal(t, 1, l.Count(protocol.KindSync))
}

func TestParseFuseFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantLen int
		wantErr string
	}{
		{name: "u32 value", content: "<odm_lock:1>", wantLen: 40},
		{name: "wide hex value", content: "<public_key:0x0102030405060708090a>", wantLen: 46},
		{name: "odd hex digits", content: "<key:0x123456789>", wantLen: 41},
		{name: "bad value", content: "<odm_lock:yes>", wantErr: "invalid value"},
		{name: "name too long", content: "<" + strings.Repeat("x", 32) + ":1>", wantErr: "invalid fuse name"},
		{name: "empty", content: "# nothing\n", wantErr: "no fuse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "fuses.txt", []byte(tt.content))
			payload, err := parseFuseFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, payload, tt.wantLen)
		})
	}
}

func TestRunBdkTest(t *testing.T) {
	dir := t.TempDir()
	plan := writeFile(t, dir, "plan.txt", []byte(
		"<arg:memory; instance:1; mem_add:0x80000000>\n"+
			"<suite:memory; test:walking_ones>\n"+
			"<suite:i2c; test:probe>\n",
	))
	out := filepath.Join(dir, "results.txt")
	l := transport.NewLoopback()

	op := &RunBdkTest{File: plan, Out: out}
	require.NoError(t, New(l, WithMode(transport.ModeSimulation, 0)).Run(context.Background(), []Op{op}))

	require.Len(t, op.Results, 2)
	assert.Equal(t, "walking_ones", op.Results[0].Test)

	var cmds []*protocol.RunBdkTest
	for _, c := range l.Sent() {
		if r, ok := c.(*protocol.RunBdkTest); ok {
			cmds = append(cmds, r)
		}
	}
	require.Len(t, cmds, 2)
	assert.Equal(t, uint32(1), cmds[0].Instance)
	assert.Equal(t, uint32(0x80000000), cmds[0].MemAddr)
	assert.Equal(t, uint32(0), cmds[1].Instance, "arguments apply to their suite only")

	report, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(report), "memory walking_ones: pass")
}

func TestParseTestPlan(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr string
	}{
		{name: "two tests", content: "<suite:a; test:x>\n<suite:b>", want: 2},
		{name: "no suite", content: "<test:x>", wantErr: "has no suite"},
		{name: "bad token", content: "<suite:a; speed:fast>", wantErr: "invalid token"},
		{name: "bad argument", content: "<arg:a; instance:many>", wantErr: "arg a instance"},
		{name: "empty plan", content: "<arg:a; instance:1>", wantErr: "no test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "plan.txt", []byte(tt.content))
			tests, err := parseTestPlan(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, tests, tt.want)
		})
	}
}

func TestUpdateBct(t *testing.T) {
	t.Run("section after the list", func(t *testing.T) {
		f := newFixture(t)
		l := transport.NewLoopback(transport.WithStoredBct(pattern(256, 1)))

		require.NoError(t, f.session(l).Run(context.Background(), []Op{&UpdateBct{Section: protocol.BctSectionSdram}}))

		sent := l.Sent()
		i := lastIndex(sent, protocol.KindUpdateBct)
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, protocol.BctSectionSdram, sent[i].(*protocol.UpdateBct).Section)
		assert.Less(t, i, lastIndex(sent, protocol.KindSync))
	})

	t.Run("no bct on device", func(t *testing.T) {
		f := newFixture(t)
		l := transport.NewLoopback()

		err := f.session(l).Run(context.Background(), []Op{&UpdateBct{Section: protocol.BctSectionDevParam}})
		var se *protocol.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, protocol.StatusBctNotFound, se.Code)
	})

	t.Run("blinfo with bootloader download", func(t *testing.T) {
		f := newFixture(t)
		l := f.created(t)
		hash := pattern(32, 5)

		err := f.session(l, WithBlobHash(hash)).Run(context.Background(), []Op{
			&UpdateBct{Section: protocol.BctSectionBlInfo},
			&Download{Partition: "EBT"},
		})
		require.NoError(t, err)

		sent := l.Sent()
		hashAt := lastIndex(sent, protocol.KindSetBlHash)
		bctAt := lastIndex(sent, protocol.KindUpdateBct)
		dlAt := lastIndex(sent, protocol.KindDownloadPartition)
		require.GreaterOrEqual(t, hashAt, 0)
		assert.Less(t, hashAt, bctAt)
		assert.Less(t, bctAt, dlAt)
		assert.Equal(t, uint32(32), sent[hashAt].(*protocol.SetBlHash).Length)
		assert.Equal(t, uint32(4), sent[bctAt].(*protocol.UpdateBct).PartitionID)
		assert.Equal(t, 1, l.Count(protocol.KindUpdateBct))
	})
}
