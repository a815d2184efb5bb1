package interop

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
)

var protoUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}

// InvokeProto calls method with req encoded as protobuf JSON and decodes the
// result into resp. A nil resp discards the result.
func (p *Peer) InvokeProto(ctx context.Context, method string, req, resp proto.Message) error {
	var args []any
	if req != nil {
		payload, err := protojson.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		args = append(args, jsoncodec.RawMessage(payload))
	}
	raw, err := p.Invoke(ctx, method, args...)
	if err != nil {
		return err
	}
	if resp == nil || jsoncodec.IsNull(raw) {
		return nil
	}
	if err := protoUnmarshal.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// RegisterProto registers a handler whose single argument and result are
// protobuf messages carried as protobuf JSON.
func RegisterProto[Req, Resp proto.Message](p *Peer, method string, fn func(ctx context.Context, req Req) (Resp, error)) error {
	if fn == nil {
		return fmt.Errorf("uisync: handler for %q is nil", method)
	}
	var zero Req
	prototype, err := ensurePrototype(zero)
	if err != nil {
		return err
	}

	return p.Register(method, func(ctx context.Context, args ipc.Args) (any, error) {
		req, ok := proto.Clone(prototype).(Req)
		if !ok {
			return nil, fmt.Errorf("unexpected prototype type %T", prototype)
		}
		proto.Reset(req)
		if !args.IsNull(0) {
			if err := protoUnmarshal.Unmarshal(args.Raw(0), req); err != nil {
				return nil, fmt.Errorf("decode %s request: %w", method, err)
			}
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		if isNilProto(resp) {
			return nil, nil
		}
		payload, err := protojson.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encode %s response: %w", method, err)
		}
		return jsoncodec.RawMessage(payload), nil
	})
}

// ensurePrototype returns a usable instance of T, allocating one when the
// candidate is a typed nil pointer.
func ensurePrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}
	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return zero, fmt.Errorf("uisync: protobuf request type must be a pointer, got %v", typ)
	}
	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](msg T) bool {
	m := proto.Message(msg)
	if m == nil {
		return true
	}
	val := reflect.ValueOf(m)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
