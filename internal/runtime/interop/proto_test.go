package interop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
)

func TestProtoRoundTrip(t *testing.T) {
	host, remote := newLinkedEndpoints(t)
	require.NoError(t, RegisterProto(remote.peer, "upper", func(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
		return wrapperspb.String(strings.ToUpper(req.GetValue())), nil
	}))

	resp := &wrapperspb.StringValue{}
	require.NoError(t, host.peer.InvokeProto(testContext(t), "upper", wrapperspb.String("render"), resp))
	assert.Equal(t, "RENDER", resp.GetValue())
}

func TestProtoStructPayload(t *testing.T) {
	host, remote := newLinkedEndpoints(t)
	require.NoError(t, RegisterProto(remote.peer, "describe", func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{
			"selector": req.GetFields()["selector"].GetStringValue(),
			"attached": true,
		})
	}))

	req, err := structpb.NewStruct(map[string]any{"selector": "#app"})
	require.NoError(t, err)
	resp := &structpb.Struct{}
	require.NoError(t, host.peer.InvokeProto(testContext(t), "describe", req, resp))
	assert.Equal(t, "#app", resp.GetFields()["selector"].GetStringValue())
	assert.True(t, resp.GetFields()["attached"].GetBoolValue())
}

func TestProtoHandlerErrorAndNilResponse(t *testing.T) {
	host, remote := newLinkedEndpoints(t)
	require.NoError(t, RegisterProto(remote.peer, "reject", func(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
		return nil, errors.New("denied")
	}))
	require.NoError(t, RegisterProto(remote.peer, "empty", func(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
		return nil, nil
	}))

	err := host.peer.InvokeProto(testContext(t), "reject", wrapperspb.String("x"), &wrapperspb.StringValue{})
	var remoteErr *errspkg.RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "denied", remoteErr.Message)

	resp := wrapperspb.String("unchanged")
	require.NoError(t, host.peer.InvokeProto(testContext(t), "empty", nil, resp))
	assert.Equal(t, "unchanged", resp.GetValue())
}

func TestRegisterProtoRequiresHandler(t *testing.T) {
	peer := newTestPeer(t, newRecordingBus(), Options{})
	err := RegisterProto[*wrapperspb.StringValue, *wrapperspb.StringValue](peer, "nil", nil)
	assert.Error(t, err)
}

func TestEnsurePrototypeAllocatesForNilPointer(t *testing.T) {
	var nilValue *wrapperspb.StringValue
	got, err := ensurePrototype(nilValue)
	require.NoError(t, err)
	assert.NotNil(t, got)

	existing := wrapperspb.String("x")
	got, err = ensurePrototype(existing)
	require.NoError(t, err)
	assert.Same(t, existing, got)
}
