package cfgparse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect parses input and returns a copy of every record.
func collect(t *testing.T, r io.Reader, opts ...Option) ([]Record, Result, error) {
	t.Helper()
	var recs []Record
	res, err := ParseReader(r, func(rec Record) Status {
		recs = append(recs, append(Record(nil), rec...))
		return Continue
	}, opts...)
	return recs, res, err
}

// splitReader returns its input in two reads split at n.
type splitReader struct {
	parts [][]byte
}

func (s *splitReader) Read(p []byte) (int, error) {
	for len(s.parts) > 0 && len(s.parts[0]) == 0 {
		s.parts = s.parts[1:]
	}
	if len(s.parts) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.parts[0])
	s.parts[0] = s.parts[0][n:]
	return n, nil
}

func newSplitReader(s string, n int) *splitReader {
	return &splitReader{parts: [][]byte{[]byte(s[:n]), []byte(s[n:])}}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  []Option
		want  []Record
	}{
		{
			name:  "two pairs",
			input: "<k1:v1;k2:v2>",
			want:  []Record{{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}}},
		},
		{
			name:  "whitespace trimmed",
			input: "  <  k1 :  v1 ;\n\tk2:\r\n v2  >\n",
			want:  []Record{{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}}},
		},
		{
			name:  "case folded",
			input: "<Name:BCT; FileName:Boot.IMG>",
			want:  []Record{{{Key: "name", Value: "bct"}, {Key: "filename", Value: "boot.img"}}},
		},
		{
			name:  "case sensitive",
			input: "<Name:BCT; FileName:Boot.IMG>",
			opts:  []Option{WithCaseSensitive(true)},
			want:  []Record{{{Key: "Name", Value: "BCT"}, {Key: "FileName", Value: "Boot.IMG"}}},
		},
		{
			name:  "multiple sections with text between",
			input: "header text <a:1> more text\n<b:2;c:3;>",
			want: []Record{
				{{Key: "a", Value: "1"}},
				{{Key: "b", Value: "2"}, {Key: "c", Value: "3"}},
			},
		},
		{
			name:  "comment hides tag open",
			input: "# <ignored:1>\n<kept:2>",
			want:  []Record{{{Key: "kept", Value: "2"}}},
		},
		{
			name:  "value keeps colon",
			input: "<sku name:sku id; t40:0x8>",
			want:  []Record{{{Key: "sku name", Value: "sku id"}, {Key: "t40", Value: "0x8"}}},
		},
		{
			name:  "closing tag",
			input: "</policy:default skus>",
			want:  []Record{{{Key: "/policy", Value: "default skus"}}},
		},
		{
			name:  "bare key",
			input: "<flag>",
			want:  []Record{{{Key: "flag"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, res, err := collect(t, strings.NewReader(tt.input), tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, recs)
			assert.Equal(t, len(tt.want), res.Sections)
		})
	}
}

func TestParseChunkBoundaryInvariance(t *testing.T) {
	doc := `# partition layout
<device:emmc; instance:3>
<name:BCT; id:2; type:bct; allocation_policy:sequential; size:3145728; filename:Bct.bin>
<name:APP; id:7; type:data; size:0x40000000; allocation_attribute:0x808>
</policy:default skus>`

	whole, _, err := collect(t, strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, whole, 4)

	for i := 0; i <= len(doc); i++ {
		recs, _, err := collect(t, newSplitReader(doc, i))
		require.NoError(t, err, "split at %d", i)
		require.Equal(t, whole, recs, "split at %d", i)
	}

	for size := 1; size <= 16; size++ {
		recs, _, err := collect(t, strings.NewReader(doc), WithChunkSize(size))
		require.NoError(t, err, "chunk size %d", size)
		require.Equal(t, whole, recs, "chunk size %d", size)
	}
}

func TestParseStop(t *testing.T) {
	doc := "<a:1><b:2><c:3>"
	var seen []string

	res, err := ParseReader(strings.NewReader(doc), func(rec Record) Status {
		seen = append(seen, rec[0].Key)
		if rec[0].Key == "b" {
			return Stop
		}
		return Continue
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.True(t, res.Stopped)
	assert.Equal(t, int64(len("<a:1><b:2>")), res.Offset)
}

func TestParseErrors(t *testing.T) {
	t.Run("callback error", func(t *testing.T) {
		_, err := ParseReader(strings.NewReader("<a:1><b:2>"), func(rec Record) Status {
			return Error
		})
		assert.ErrorIs(t, err, ErrCallback)
		assert.Contains(t, err.Error(), "section 1")
	})

	t.Run("unterminated section", func(t *testing.T) {
		_, _, err := collect(t, strings.NewReader("<a:1><b:2"))
		assert.ErrorIs(t, err, ErrUnterminated)
	})

	t.Run("nil reader", func(t *testing.T) {
		_, err := ParseReader(nil, func(Record) Status { return Continue })
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("nil callback", func(t *testing.T) {
		_, err := ParseReader(strings.NewReader("<a:1>"), nil)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Parse("/nonexistent/flash.cfg", func(Record) Status { return Continue })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open file")
	})
}

func TestRecordGet(t *testing.T) {
	rec := Record{{Key: "name", Value: "APP"}, {Key: "id", Value: "7"}, {Key: "name", Value: "dup"}}

	v, ok := rec.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "APP", v)

	_, ok = rec.Get("size")
	assert.False(t, ok)
}
