// Package rpc exposes a tiptree Store's Apply and Resolve over a
// websocket. Each binary message carries one request or response,
// encoded as protobuf wire-format fields.
package rpc

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/jrhy/tiptree"
	"github.com/oklog/ulid/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrFrame is returned for messages that can't be parsed.
var ErrFrame = errors.New("malformed frame")

// Op selects the operation a Request performs.
type Op uint64

const (
	OpApply   Op = 1
	OpResolve Op = 2
)

func (op Op) String() string {
	switch op {
	case OpApply:
		return "apply"
	case OpResolve:
		return "resolve"
	}
	return fmt.Sprintf("op(%d)", uint64(op))
}

// Code classifies a failed request, so the client can rebuild an error
// that errors.Is recognizes.
type Code uint64

const (
	CodeOK Code = iota
	CodeNotFound
	CodeCodec
	CodeUnsupportedValue
	CodeBadRequest
	CodeInternal
)

const (
	fieldID    protowire.Number = 1
	fieldOp    protowire.Number = 2
	fieldTip   protowire.Number = 3
	fieldPath  protowire.Number = 4
	fieldValue protowire.Number = 5

	fieldRespID      protowire.Number = 1
	fieldRespTip     protowire.Number = 2
	fieldRespFound   protowire.Number = 3
	fieldRespValue   protowire.Number = 4
	fieldRespCode    protowire.Number = 5
	fieldRespMessage protowire.Number = 6
)

// Request asks for one Apply or Resolve.
type Request struct {
	ID    ulid.ULID
	Op    Op
	Tip   tiptree.Tip
	Path  string
	Value tiptree.Value
}

// Response answers the Request with the same ID.
type Response struct {
	ID      ulid.ULID
	Tip     tiptree.Tip
	Found   bool
	Value   tiptree.Value
	Code    Code
	Message string
}

// Marshal encodes the request.
func (r Request) Marshal() ([]byte, error) {
	b := protowire.AppendTag(nil, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ID[:])
	b = protowire.AppendTag(b, fieldOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Op))
	if r.Tip.Defined() {
		b = protowire.AppendTag(b, fieldTip, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Tip.Bytes())
	}
	b = protowire.AppendTag(b, fieldPath, protowire.BytesType)
	b = protowire.AppendString(b, r.Path)
	if r.Value != nil {
		v, err := tiptree.Encode(r.Value)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	return b, nil
}

// UnmarshalRequest decodes a request. Unknown fields are skipped.
func UnmarshalRequest(b []byte) (Request, error) {
	var r Request
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldID && typ == protowire.BytesType:
			return consumeID(b, &r.ID)
		case num == fieldOp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Op = Op(v)
			return n, nil
		case num == fieldTip && typ == protowire.BytesType:
			return consumeTip(b, &r.Tip)
		case num == fieldPath && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Path = v
			return n, nil
		case num == fieldValue && typ == protowire.BytesType:
			return consumeValue(b, &r.Value)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

// Marshal encodes the response.
func (r Response) Marshal() ([]byte, error) {
	b := protowire.AppendTag(nil, fieldRespID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ID[:])
	if r.Tip.Defined() {
		b = protowire.AppendTag(b, fieldRespTip, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Tip.Bytes())
	}
	if r.Found {
		b = protowire.AppendTag(b, fieldRespFound, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if r.Value != nil {
		v, err := tiptree.Encode(r.Value)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldRespValue, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	if r.Code != CodeOK {
		b = protowire.AppendTag(b, fieldRespCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Code))
		b = protowire.AppendTag(b, fieldRespMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	return b, nil
}

// UnmarshalResponse decodes a response. Unknown fields are skipped.
func UnmarshalResponse(b []byte) (Response, error) {
	var r Response
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldRespID && typ == protowire.BytesType:
			return consumeID(b, &r.ID)
		case num == fieldRespTip && typ == protowire.BytesType:
			return consumeTip(b, &r.Tip)
		case num == fieldRespFound && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Found = protowire.DecodeBool(v)
			return n, nil
		case num == fieldRespValue && typ == protowire.BytesType:
			return consumeValue(b, &r.Value)
		case num == fieldRespCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Code = Code(v)
			return n, nil
		case num == fieldRespMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Message = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrFrame, protowire.ParseError(n))
		}
		b = b[n:]
		n, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrFrame, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func consumeID(b []byte, id *ulid.ULID) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	if len(v) != len(id) {
		return 0, fmt.Errorf("%w: id of %d bytes", ErrFrame, len(v))
	}
	copy(id[:], v)
	return n, nil
}

func consumeTip(b []byte, tip *tiptree.Tip) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	c, err := cid.Cast(v)
	if err != nil {
		return 0, fmt.Errorf("%w: tip: %v", ErrFrame, err)
	}
	*tip = tiptree.Tip{Cid: c}
	return n, nil
}

func consumeValue(b []byte, value *tiptree.Value) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	decoded, err := tiptree.Decode(v)
	if err != nil {
		return 0, err
	}
	*value = decoded
	return n, nil
}
