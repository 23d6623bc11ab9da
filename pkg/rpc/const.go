package rpc

import "github.com/kbirk/svchost/pkg/serialize"

var (
	RequestPrefix = [16]byte{
		0x00, 0x00, 0x73, 0x76,
		0x63, 0x68, 0x6F, 0x73,
		0x74, 0x2D, 0x72, 0x65,
		0x71, 0x75, 0x65, 0x73}
	ResponsePrefix = [16]byte{
		0x00, 0x00, 0x73, 0x76,
		0x63, 0x68, 0x6F, 0x73,
		0x74, 0x2D, 0x72, 0x65,
		0x73, 0x70, 0x6F, 0x6E}
)

const (
	PrefixSize = 16
)

const (
	ErrorResponse   = uint8(0x01)
	MessageResponse = uint8(0x02)
)

func ByteSizePrefix() int {
	return PrefixSize
}

func SerializePrefix(writer *serialize.FixedSizeWriter, data [16]byte) {
	bs := writer.Next(PrefixSize)
	copy(bs, data[:])
}

func DeserializePrefix(data *[16]byte, reader *serialize.Reader) error {
	bs, err := reader.Read(PrefixSize)
	if err != nil {
		return err
	}
	copy((*data)[:], bs)
	return nil
}
