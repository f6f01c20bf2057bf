package tfrecord

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func writeRecords(t *testing.T, records ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func TestMaskedCRCEmpty(t *testing.T) {
	// CRC-32C of the empty string is 0, so only the mask delta remains.
	assert.Equal(t, uint32(0xa282ead8), MaskedCRC(nil))
}

func TestReaderRoundTrip(t *testing.T) {
	records := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{7}, 100_000)}
	r := NewReader(bytes.NewReader(writeRecords(t, records...)))

	for i, want := range records {
		got, err := r.Next()
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got), "record %d differs", i)
	}
	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderEmptyStream(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil)).Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderCorruption(t *testing.T) {
	data := writeRecords(t, []byte("payload"))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"payload bit flip", func(b []byte) []byte { b[13] ^= 1; return b }},
		{"length crc", func(b []byte) []byte { b[9] ^= 1; return b }},
		{"truncated header", func(b []byte) []byte { return b[:5] }},
		{"truncated payload", func(b []byte) []byte { return b[:15] }},
		{"missing footer", func(b []byte) []byte { return b[:len(b)-2] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupted := tt.mutate(append([]byte(nil), data...))
			_, err := NewReader(bytes.NewReader(corrupted)).Next()
			if !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("expected ErrCorruptRecord, got %v", err)
			}
		})
	}
}

func TestExampleRoundTrip(t *testing.T) {
	ex := &Example{Features: map[string]Feature{
		"label":     Int64Feature(7),
		"image_raw": BytesFeature([]byte{1, 2, 3, 4}),
		"scores":    FloatFeature(0.5, -1.25),
		"negative":  Int64Feature(-3, 1<<40),
	}}

	parsed, err := ParseExample(ex.Marshal())
	require.NoError(t, err)

	assert.Equal(t, KindInt64List, parsed.Features["label"].Kind)
	assert.Equal(t, []int64{7}, parsed.Features["label"].Int64s)
	assert.Equal(t, [][]byte{{1, 2, 3, 4}}, parsed.Features["image_raw"].Bytes)
	assert.Equal(t, []float32{0.5, -1.25}, parsed.Features["scores"].Floats)
	assert.Equal(t, []int64{-3, 1 << 40}, parsed.Features["negative"].Int64s)

	assert.Equal(t, ex.Marshal(), parsed.Marshal(), "encoding is deterministic")
}

func TestParseExampleUnpackedLists(t *testing.T) {
	// int64_list { value: 5 value: 6 } written unpacked.
	var list []byte
	list = protowire.AppendTag(list, 1, protowire.VarintType)
	list = protowire.AppendVarint(list, 5)
	list = protowire.AppendTag(list, 1, protowire.VarintType)
	list = protowire.AppendVarint(list, 6)

	var feature []byte
	feature = protowire.AppendTag(feature, 3, protowire.BytesType)
	feature = protowire.AppendBytes(feature, list)

	var entry []byte
	entry = protowire.AppendTag(entry, 1, protowire.BytesType)
	entry = protowire.AppendString(entry, "label")
	entry = protowire.AppendTag(entry, 2, protowire.BytesType)
	entry = protowire.AppendBytes(entry, feature)

	var features []byte
	features = protowire.AppendTag(features, 1, protowire.BytesType)
	features = protowire.AppendBytes(features, entry)

	var example []byte
	example = protowire.AppendTag(example, 1, protowire.BytesType)
	example = protowire.AppendBytes(example, features)
	// An unknown trailing field is ignored.
	example = protowire.AppendTag(example, 9, protowire.VarintType)
	example = protowire.AppendVarint(example, 1)

	parsed, err := ParseExample(example)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, parsed.Features["label"].Int64s)
}

func TestParseExampleGarbage(t *testing.T) {
	_, err := ParseExample([]byte{0x0a, 0xff})
	assert.ErrorIs(t, err, ErrInvalidExample)
}

func TestFeatureKindString(t *testing.T) {
	assert.Equal(t, "bytes_list", KindBytesList.String())
	assert.Equal(t, "int64_list", KindInt64List.String())
	assert.Equal(t, "none", KindNone.String())
}
