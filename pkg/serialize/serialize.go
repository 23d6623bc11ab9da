package serialize

import (
	"errors"
	"fmt"
	"time"
)

var ErrQuotaExceeded = errors.New("length exceeds quota")

func ByteSizeTime(time.Time) int {
	return 12
}

// SerializeTime writes seconds and nanoseconds since the Unix epoch. The zero
// time is written as zero seconds so it survives a round trip.
func SerializeTime(writer *FixedSizeWriter, data time.Time) {
	if data.IsZero() {
		SerializeUInt64(writer, 0)
		SerializeUInt32(writer, 0)
		return
	}
	utc := data.UTC()
	SerializeUInt64(writer, uint64(utc.Unix()))
	SerializeUInt32(writer, uint32(utc.Nanosecond()))
}

func DeserializeTime(data *time.Time, reader *Reader) error {
	var seconds uint64
	var nanoseconds uint32
	if err := DeserializeUInt64(&seconds, reader); err != nil {
		return err
	}
	if err := DeserializeUInt32(&nanoseconds, reader); err != nil {
		return err
	}
	if seconds == 0 && nanoseconds == 0 {
		*data = time.Time{}
		return nil
	}
	*data = time.Unix(int64(seconds), int64(nanoseconds))
	return nil
}

func ByteSizeString(data string) int {
	return 4 + len(data)
}

func SerializeString(writer *FixedSizeWriter, data string) {
	SerializeUInt32(writer, uint32(len(data)))
	bs := writer.Next(len(data))
	copy(bs, data)
}

func DeserializeString(data *string, reader *Reader) error {
	return DeserializeStringMax(data, reader, 0)
}

// DeserializeStringMax rejects strings longer than max bytes. A max of zero
// means no limit.
func DeserializeStringMax(data *string, reader *Reader, max uint32) error {
	bs, err := deserializeLengthPrefixed(reader, max)
	if err != nil {
		return err
	}
	*data = string(bs)
	return nil
}

func ByteSizeBytes(data []byte) int {
	return 4 + len(data)
}

func SerializeBytes(writer *FixedSizeWriter, data []byte) {
	SerializeUInt32(writer, uint32(len(data)))
	bs := writer.Next(len(data))
	copy(bs, data)
}

// DeserializeBytes copies the payload out of the reader's buffer.
func DeserializeBytes(data *[]byte, reader *Reader) error {
	bs, err := deserializeLengthPrefixed(reader, 0)
	if err != nil {
		return err
	}
	out := make([]byte, len(bs))
	copy(out, bs)
	*data = out
	return nil
}

func deserializeLengthPrefixed(reader *Reader, max uint32) ([]byte, error) {
	var length uint32
	if err := DeserializeUInt32(&length, reader); err != nil {
		return nil, err
	}
	if max > 0 && length > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrQuotaExceeded, length, max)
	}
	return reader.Read(int(length))
}

func ByteSizeBool(bool) int {
	return 1
}

func SerializeBool(writer *FixedSizeWriter, data bool) {
	val := uint8(0)
	if data {
		val = 1
	}
	SerializeUInt8(writer, val)
}

func DeserializeBool(data *bool, reader *Reader) error {
	bs, err := reader.Read(1)
	if err != nil {
		return err
	}
	*data = bs[0] == 1
	return nil
}

func ByteSizeUInt8(uint8) int {
	return 1
}

func SerializeUInt8(writer *FixedSizeWriter, data uint8) {
	bs := writer.Next(1)
	bs[0] = byte(data)
}

func DeserializeUInt8(data *uint8, reader *Reader) error {
	bs, err := reader.Read(1)
	if err != nil {
		return err
	}
	*data = uint8(bs[0])
	return nil
}

func ByteSizeUInt32(uint32) int {
	return 4
}

func SerializeUInt32(writer *FixedSizeWriter, data uint32) {
	bs := writer.Next(4)
	bs[0] = byte(data >> 24)
	bs[1] = byte(data >> 16)
	bs[2] = byte(data >> 8)
	bs[3] = byte(data)
}

func DeserializeUInt32(data *uint32, reader *Reader) error {
	bs, err := reader.Read(4)
	if err != nil {
		return err
	}
	*data = uint32(bs[0])<<24 |
		uint32(bs[1])<<16 |
		uint32(bs[2])<<8 |
		uint32(bs[3])
	return nil
}

func ByteSizeUInt64(uint64) int {
	return 8
}

func SerializeUInt64(writer *FixedSizeWriter, data uint64) {
	bs := writer.Next(8)
	bs[0] = byte(data >> 56)
	bs[1] = byte(data >> 48)
	bs[2] = byte(data >> 40)
	bs[3] = byte(data >> 32)
	bs[4] = byte(data >> 24)
	bs[5] = byte(data >> 16)
	bs[6] = byte(data >> 8)
	bs[7] = byte(data)
}

func DeserializeUInt64(data *uint64, reader *Reader) error {
	bs, err := reader.Read(8)
	if err != nil {
		return err
	}
	*data = uint64(bs[0])<<56 |
		uint64(bs[1])<<48 |
		uint64(bs[2])<<40 |
		uint64(bs[3])<<32 |
		uint64(bs[4])<<24 |
		uint64(bs[5])<<16 |
		uint64(bs[6])<<8 |
		uint64(bs[7])
	return nil
}
