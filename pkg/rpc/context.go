package rpc

import (
	"context"
	"fmt"

	"github.com/kbirk/svchost/pkg/serialize"
)

type metadataKey struct{}

func NewContextWithMetadata(ctx context.Context, metadata map[string]string) context.Context {
	return context.WithValue(ctx, metadataKey{}, metadata)
}

// AppendMetadataToContext returns a context carrying the existing metadata
// merged with metadata. The parent's map is not modified.
func AppendMetadataToContext(ctx context.Context, metadata map[string]string) context.Context {
	existing := GetMetadataFromContext(ctx)
	merged := make(map[string]string, len(existing)+len(metadata))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	return context.WithValue(ctx, metadataKey{}, merged)
}

func GetMetadataFromContext(ctx context.Context) map[string]string {
	v := ctx.Value(metadataKey{})
	if v != nil {
		md, ok := v.(map[string]string)
		if ok {
			return md
		}
	}
	return nil
}

func ByteSizeMetadata(md map[string]string) int {
	size := serialize.ByteSizeUInt32(uint32(len(md)))
	for k, v := range md {
		size += serialize.ByteSizeString(k)
		size += serialize.ByteSizeString(v)
	}
	return size
}

func SerializeMetadata(writer *serialize.FixedSizeWriter, md map[string]string) {
	serialize.SerializeUInt32(writer, uint32(len(md)))
	for k, v := range md {
		serialize.SerializeString(writer, k)
		serialize.SerializeString(writer, v)
	}
}

func DeserializeMetadata(md *map[string]string, reader *serialize.Reader, limits Limits) error {
	var size uint32
	err := serialize.DeserializeUInt32(&size, reader)
	if err != nil {
		return err
	}
	if limits.MaxMetadataEntries > 0 && int(size) > limits.MaxMetadataEntries {
		return fmt.Errorf("%w: %d metadata entries > %d", serialize.ErrQuotaExceeded, size, limits.MaxMetadataEntries)
	}
	if size == 0 {
		*md = nil
		return nil
	}
	// each entry needs at least two length prefixes
	if int(size)*8 > reader.Remaining() {
		return fmt.Errorf("%w: %d metadata entries", serialize.ErrShortBuffer, size)
	}
	out := make(map[string]string, size)
	for i := 0; i < int(size); i++ {
		var k, v string
		err = serialize.DeserializeStringMax(&k, reader, limits.maxString())
		if err != nil {
			return err
		}
		err = serialize.DeserializeStringMax(&v, reader, limits.maxString())
		if err != nil {
			return err
		}
		out[k] = v
	}
	*md = out
	return nil
}
