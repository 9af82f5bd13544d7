package tiptree

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

// MaxNestingDepth bounds how deeply Seqs and Maps may nest in one block.
const MaxNestingDepth = 512

// linkTag is the CBOR tag that marks a Link, as in DAG-CBOR.
const linkTag = 42

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: MaxNestingDepth + 2,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes a Value into its canonical form. Equal values always
// encode to the same bytes.
func Encode(v Value) ([]byte, error) {
	if err := validate(v, 0); err != nil {
		return nil, err
	}
	return encodeValid(v)
}

func encodeValid(v Value) ([]byte, error) {
	b, err := encMode.Marshal(toCBOR(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return b, nil
}

func toCBOR(v Value) interface{} {
	switch tv := v.(type) {
	case Null:
		return nil
	case Bool:
		return bool(tv)
	case String:
		return string(tv)
	case Int:
		return tv.big()
	case Float:
		return float64(tv)
	case Seq:
		l := make([]interface{}, len(tv))
		for i, e := range tv {
			l[i] = toCBOR(e)
		}
		return l
	case Map:
		m := make(map[string]interface{}, len(tv))
		for k, e := range tv {
			m[k] = toCBOR(e)
		}
		return m
	case Link:
		return cbor.Tag{Number: linkTag, Content: append([]byte{0}, tv.Bytes()...)}
	}
	panic(fmt.Sprintf("unvalidated value %T", v))
}

// Decode parses bytes produced by Encode. Anything that Encode would not
// have produced, including non-canonical encodings of valid values, is
// rejected with ErrCodec.
func Decode(b []byte) (Value, error) {
	var raw cbor.RawMessage
	err := decMode.Unmarshal(b, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	v, err := decodeItem(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(v, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	again, err := encMode.Marshal(toCBOR(v))
	if err != nil {
		return nil, fmt.Errorf("%w: re-encode: %v", ErrCodec, err)
	}
	if !bytes.Equal(again, b) {
		return nil, fmt.Errorf("%w: non-canonical encoding", ErrCodec)
	}
	return v, nil
}

const (
	majorUint   = 0
	majorNegInt = 1
	majorBytes  = 2
	majorText   = 3
	majorArray  = 4
	majorMap    = 5
	majorTag    = 6
	majorSimple = 7
)

func decodeItem(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty item", ErrCodec)
	}
	switch data[0] >> 5 {
	case majorUint, majorNegInt:
		var i big.Int
		if err := decMode.Unmarshal(data, &i); err != nil {
			return nil, fmt.Errorf("%w: int: %v", ErrCodec, err)
		}
		return Int{&i}, nil
	case majorBytes:
		return nil, fmt.Errorf("%w: byte strings are not values", ErrCodec)
	case majorText:
		var s string
		if err := decMode.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: string: %v", ErrCodec, err)
		}
		return String(s), nil
	case majorArray:
		var items []cbor.RawMessage
		if err := decMode.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: seq: %v", ErrCodec, err)
		}
		seq := make(Seq, len(items))
		for i, item := range items {
			v, err := decodeItem(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq[i] = v
		}
		return seq, nil
	case majorMap:
		var items map[string]cbor.RawMessage
		if err := decMode.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: map: %v", ErrCodec, err)
		}
		m := make(Map, len(items))
		for k, item := range items {
			v, err := decodeItem(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = v
		}
		return m, nil
	case majorTag:
		return decodeTag(data)
	case majorSimple:
		return decodeSimple(data)
	}
	return nil, fmt.Errorf("%w: unreachable major type", ErrCodec)
}

func decodeTag(data []byte) (Value, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrCodec, err)
	}
	switch tag.Number {
	case 2, 3:
		var i big.Int
		if err := decMode.Unmarshal(data, &i); err != nil {
			return nil, fmt.Errorf("%w: bignum: %v", ErrCodec, err)
		}
		return Int{&i}, nil
	case linkTag:
		var content []byte
		if err := decMode.Unmarshal(tag.Content, &content); err != nil {
			return nil, fmt.Errorf("%w: link: %v", ErrCodec, err)
		}
		if len(content) < 2 || content[0] != 0 {
			return nil, fmt.Errorf("%w: link without multibase identity prefix", ErrCodec)
		}
		c, err := cid.Cast(content[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: link: %v", ErrCodec, err)
		}
		return Link{c}, nil
	}
	return nil, fmt.Errorf("%w: unsupported tag %d", ErrCodec, tag.Number)
}

func decodeSimple(data []byte) (Value, error) {
	switch data[0] {
	case 0xf4:
		return Bool(false), nil
	case 0xf5:
		return Bool(true), nil
	case 0xf6:
		return Null{}, nil
	case 0xf9, 0xfa, 0xfb:
		var f float64
		if err := decMode.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: float: %v", ErrCodec, err)
		}
		return Float(f), nil
	}
	return nil, fmt.Errorf("%w: unsupported simple value 0x%02x", ErrCodec, data[0])
}
