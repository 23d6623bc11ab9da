package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/svchost/pkg/serialize"
)

func TestRequestFrame(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	req := &Request{
		Metadata: map[string]string{"token": "1234", "tenant": "acme"},
		ID:       7,
		Path:     "private/IOrders",
		Method:   "Submit",
		OneWay:   true,
		Deadline: deadline,
		Payload:  []byte("order"),
	}

	got, err := DecodeRequest(req.ToBytes(), Limits{})
	require.NoError(t, err)
	assert.Equal(t, req.Metadata, got.Metadata)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Path, got.Path)
	assert.Equal(t, req.Method, got.Method)
	assert.True(t, got.OneWay)
	assert.True(t, deadline.Equal(got.Deadline))
	assert.Equal(t, req.Payload, got.Payload)
}

func TestRequestFrameQuotas(t *testing.T) {
	req := &Request{
		Metadata: map[string]string{"a": "1", "b": "2", "c": "3"},
		Path:     "Acme.Orders.Services.IOrders",
		Method:   "Submit",
	}
	bs := req.ToBytes()

	_, err := DecodeRequest(bs, Limits{MaxMetadataEntries: 2})
	assert.ErrorIs(t, err, serialize.ErrQuotaExceeded)

	_, err = DecodeRequest(bs, Limits{MaxStringLength: 8})
	assert.ErrorIs(t, err, serialize.ErrQuotaExceeded)

	_, err = DecodeRequest(bs, Limits{MaxMessageSize: 16})
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = DecodeRequest(bs[:len(bs)-2], Limits{})
	assert.ErrorIs(t, err, serialize.ErrShortBuffer)
}

func TestResponseFrame(t *testing.T) {
	resp, err := DecodeResponse(RespondWithMessage(9, []byte("ok")))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), resp.ID)
	assert.Equal(t, MessageResponse, resp.Type)
	assert.Equal(t, []byte("ok"), resp.Payload)

	resp, err = DecodeResponse(RespondWithError(10, assert.AnError))
	require.NoError(t, err)
	assert.Equal(t, ErrorResponse, resp.Type)
	assert.Equal(t, assert.AnError.Error(), resp.Err)

	_, err = DecodeResponse((&Request{}).ToBytes())
	assert.Error(t, err)
}

func TestAppendMetadataDoesNotMutateParent(t *testing.T) {
	parent := NewContextWithMetadata(context.Background(), map[string]string{"a": "1"})
	child := AppendMetadataToContext(parent, map[string]string{"b": "2"})
	assert.Equal(t, map[string]string{"a": "1"}, GetMetadataFromContext(parent))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, GetMetadataFromContext(child))
}
