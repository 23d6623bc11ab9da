package serialize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeTime(t *testing.T) {
	input := time.Now()

	writer := NewFixedSizeWriter(ByteSizeTime(input))
	SerializeTime(writer, input)

	var output time.Time
	err := DeserializeTime(&output, NewReader(writer.Bytes()))
	require.NoError(t, err)
	assert.True(t, input.Equal(output))

	writer = NewFixedSizeWriter(ByteSizeTime(time.Time{}))
	SerializeTime(writer, time.Time{})
	err = DeserializeTime(&output, NewReader(writer.Bytes()))
	require.NoError(t, err)
	assert.True(t, output.IsZero())
}

func TestSerializeMessage(t *testing.T) {
	path := "Acme.Orders.Services.IOrders"
	payload := []byte{0x00, 0xff, 0x10}

	size := ByteSizeUInt8(1) + ByteSizeUInt64(42) + ByteSizeString(path) + ByteSizeBool(true) + ByteSizeBytes(payload)
	writer := NewFixedSizeWriter(size)
	SerializeUInt8(writer, 1)
	SerializeUInt64(writer, 42)
	SerializeString(writer, path)
	SerializeBool(writer, true)
	SerializeBytes(writer, payload)

	reader := NewReader(writer.Bytes())
	var (
		kind   uint8
		id     uint64
		gotStr string
		flag   bool
		gotBs  []byte
	)
	require.NoError(t, DeserializeUInt8(&kind, reader))
	require.NoError(t, DeserializeUInt64(&id, reader))
	require.NoError(t, DeserializeString(&gotStr, reader))
	require.NoError(t, DeserializeBool(&flag, reader))
	require.NoError(t, DeserializeBytes(&gotBs, reader))

	assert.Equal(t, uint8(1), kind)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, path, gotStr)
	assert.True(t, flag)
	assert.Equal(t, payload, gotBs)
	assert.Equal(t, 0, reader.Remaining())
}

func TestDeserializeStringMax(t *testing.T) {
	writer := NewFixedSizeWriter(ByteSizeString("abcdef"))
	SerializeString(writer, "abcdef")
	bs := writer.Bytes()

	var out string
	err := DeserializeStringMax(&out, NewReader(bs), 4)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, DeserializeStringMax(&out, NewReader(bs), 6))
	assert.Equal(t, "abcdef", out)
}

func TestReaderShortBuffer(t *testing.T) {
	var v uint64
	err := DeserializeUInt64(&v, NewReader([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrShortBuffer)

	// declared length larger than the remaining data
	var s string
	err = DeserializeString(&s, NewReader([]byte{0, 0, 0, 9, 'a'}))
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestFixedSizeWriterBounds(t *testing.T) {
	w := NewFixedSizeWriter(2)
	assert.Panics(t, func() { w.Next(3) })

	w = NewFixedSizeWriter(4)
	w.Next(2)
	assert.Panics(t, func() { w.Bytes() })
}
