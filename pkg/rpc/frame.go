package rpc

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbirk/svchost/pkg/serialize"
)

// Request is a call addressed to one endpoint of a server.
type Request struct {
	Metadata map[string]string
	ID       uint64
	Path     string
	Method   string
	OneWay   bool
	Deadline time.Time
	Payload  []byte
}

// Response answers the request with the same ID.
type Response struct {
	ID      uint64
	Type    uint8
	Payload []byte
	Err     string
}

// NormalizePath strips the leading and trailing slashes of an endpoint path.
func NormalizePath(path string) string {
	return strings.Trim(path, "/")
}

func (r *Request) ByteSize() int {
	return ByteSizePrefix() +
		ByteSizeMetadata(r.Metadata) +
		serialize.ByteSizeUInt64(r.ID) +
		serialize.ByteSizeString(r.Path) +
		serialize.ByteSizeString(r.Method) +
		serialize.ByteSizeBool(r.OneWay) +
		serialize.ByteSizeTime(r.Deadline) +
		serialize.ByteSizeBytes(r.Payload)
}

func (r *Request) ToBytes() []byte {
	writer := serialize.NewFixedSizeWriter(r.ByteSize())
	SerializePrefix(writer, RequestPrefix)
	SerializeMetadata(writer, r.Metadata)
	serialize.SerializeUInt64(writer, r.ID)
	serialize.SerializeString(writer, r.Path)
	serialize.SerializeString(writer, r.Method)
	serialize.SerializeBool(writer, r.OneWay)
	serialize.SerializeTime(writer, r.Deadline)
	serialize.SerializeBytes(writer, r.Payload)
	return writer.Bytes()
}

// DecodeRequest parses a request frame, enforcing the string and metadata
// quotas of limits.
func DecodeRequest(bs []byte, limits Limits) (*Request, error) {
	if err := limits.CheckMessageSize(len(bs)); err != nil {
		return nil, err
	}
	reader := serialize.NewReader(bs)

	var prefix [16]byte
	if err := DeserializePrefix(&prefix, reader); err != nil {
		return nil, err
	}
	if prefix != RequestPrefix {
		return nil, fmt.Errorf("unexpected prefix: %v", prefix)
	}

	req := &Request{}
	if err := DeserializeMetadata(&req.Metadata, reader, limits); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeUInt64(&req.ID, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeStringMax(&req.Path, reader, limits.maxString()); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeStringMax(&req.Method, reader, limits.maxString()); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeBool(&req.OneWay, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeTime(&req.Deadline, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeBytes(&req.Payload, reader); err != nil {
		return nil, err
	}
	return req, nil
}

func RespondWithError(requestID uint64, err error) []byte {
	return (&Response{ID: requestID, Type: ErrorResponse, Err: err.Error()}).ToBytes()
}

func RespondWithMessage(requestID uint64, payload []byte) []byte {
	return (&Response{ID: requestID, Type: MessageResponse, Payload: payload}).ToBytes()
}

func (r *Response) ByteSize() int {
	size := ByteSizePrefix() +
		serialize.ByteSizeUInt64(r.ID) +
		serialize.ByteSizeUInt8(r.Type)
	if r.Type == ErrorResponse {
		return size + serialize.ByteSizeString(r.Err)
	}
	return size + serialize.ByteSizeBytes(r.Payload)
}

func (r *Response) ToBytes() []byte {
	writer := serialize.NewFixedSizeWriter(r.ByteSize())
	SerializePrefix(writer, ResponsePrefix)
	serialize.SerializeUInt64(writer, r.ID)
	serialize.SerializeUInt8(writer, r.Type)
	if r.Type == ErrorResponse {
		serialize.SerializeString(writer, r.Err)
	} else {
		serialize.SerializeBytes(writer, r.Payload)
	}
	return writer.Bytes()
}

func DecodeResponse(bs []byte) (*Response, error) {
	reader := serialize.NewReader(bs)

	var prefix [16]byte
	if err := DeserializePrefix(&prefix, reader); err != nil {
		return nil, err
	}
	if prefix != ResponsePrefix {
		return nil, fmt.Errorf("unexpected prefix: %v", prefix)
	}

	resp := &Response{}
	if err := serialize.DeserializeUInt64(&resp.ID, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeUInt8(&resp.Type, reader); err != nil {
		return nil, err
	}
	switch resp.Type {
	case ErrorResponse:
		if err := serialize.DeserializeString(&resp.Err, reader); err != nil {
			return nil, err
		}
	case MessageResponse:
		if err := serialize.DeserializeBytes(&resp.Payload, reader); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected response type: %d", resp.Type)
	}
	return resp, nil
}
