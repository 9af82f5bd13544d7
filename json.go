package tiptree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"
)

// ParseJSON reads a JSON document as a Value. Numbers without a fraction
// or exponent become Ints of any size; other numbers become Floats. An
// object of the form {"/": "<cid>"} is a Link. As in DAG-JSON, a Map whose
// only key is "/" and whose value is a CID string has the same JSON form
// as a Link, so it reads back as that Link. Any other object is a Map.
func ParseJSON(b []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var i interface{}
	if err := dec.Decode(&i); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("json: trailing data")
	}
	return fromJSON(i)
}

func fromJSON(i interface{}) (Value, error) {
	switch v := i.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case json.Number:
		s := v.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("json number %s: %w", s, err)
			}
			return Float(f), nil
		}
		n, ok := ParseInt(s)
		if !ok {
			return nil, fmt.Errorf("json number %s: not an integer", s)
		}
		return n, nil
	case []interface{}:
		seq := make(Seq, len(v))
		for j, e := range v {
			ev, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			seq[j] = ev
		}
		return seq, nil
	case map[string]interface{}:
		if s, ok := v["/"].(string); ok && len(v) == 1 {
			if c, err := cid.Decode(s); err == nil {
				return Link{c}, nil
			}
		}
		m := make(Map, len(v))
		for k, e := range v {
			ev, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			m[k] = ev
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: json %T", ErrUnsupportedValue, i)
}

// MarshalJSON renders a Value as JSON, the inverse of ParseJSON. NaN and
// infinite Floats have no JSON form and are an error.
func MarshalJSON(v Value) ([]byte, error) {
	if err := validate(v, 0); err != nil {
		return nil, err
	}
	return json.Marshal(toJSON(v))
}

func toJSON(v Value) interface{} {
	switch tv := v.(type) {
	case Null:
		return nil
	case Bool:
		return bool(tv)
	case String:
		return string(tv)
	case Int:
		return json.Number(tv.String())
	case Float:
		// keep a fraction or exponent so the number reads back as a Float
		s := strconv.FormatFloat(float64(tv), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEN") {
			s += ".0"
		}
		return json.Number(s)
	case Seq:
		l := make([]interface{}, len(tv))
		for i, e := range tv {
			l[i] = toJSON(e)
		}
		return l
	case Map:
		m := make(map[string]interface{}, len(tv))
		for k, e := range tv {
			m[k] = toJSON(e)
		}
		return m
	case Link:
		return map[string]string{"/": tv.String()}
	}
	return nil
}
