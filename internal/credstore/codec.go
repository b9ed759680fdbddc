package credstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Binary values are written as {"__type":"Buffer","data":[...]} so key
// material survives a round trip through a text column. Reading also
// accepts "Uint8Array" and the bare {"type":"Buffer","data":[...]}
// shape produced by older writers.
const (
	typeTag        = "__type"
	typeBuffer     = "Buffer"
	typeUint8Array = "Uint8Array"
	dataField      = "data"
)

// ErrCorruptValue is returned when a stored value cannot be decoded.
var ErrCorruptValue = errors.New("corrupt credential value")

// Marshal encodes v as tagged JSON.
func Marshal(v any) (string, error) {
	b, err := json.Marshal(Tag(v))
	if err != nil {
		return "", fmt.Errorf("marshal credential value: %w", err)
	}
	return string(b), nil
}

// Unmarshal decodes tagged JSON produced by Marshal. Objects decode to
// map[string]any, arrays to []any, numbers to json.Number, and tagged
// buffers to []byte.
func Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrCorruptValue)
	}
	return Untag(raw)
}

// Tag returns a copy of v in which every byte slice or byte array, at
// any depth, is replaced by its tagged wrapper.
func Tag(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if x == nil {
			return nil
		}
		return bufferOf(x)
	case string, bool, json.Number, float64, float32, int, int64, int32, uint32, uint64:
		return x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Tag(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Tag(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return bufferOf(rv.Bytes())
		}
		return tagList(rv)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return bufferOf(b)
		}
		return tagList(rv)
	default:
		return v
	}
}

func tagList(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = Tag(rv.Index(i).Interface())
	}
	return out
}

func bufferOf(b []byte) map[string]any {
	data := make([]int, len(b))
	for i, c := range b {
		data[i] = int(c)
	}
	return map[string]any{typeTag: typeBuffer, dataField: data}
}

// Untag reverses Tag on a tree decoded with json.Decoder.UseNumber.
func Untag(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if b, ok, err := bufferFrom(x); ok || err != nil {
			return b, err
		}
		out := make(map[string]any, len(x))
		for k, child := range x {
			u, err := Untag(child)
			if err != nil {
				return nil, err
			}
			out[k] = u
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			u, err := Untag(child)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	default:
		return v, nil
	}
}

func bufferFrom(m map[string]any) ([]byte, bool, error) {
	data, hasData := m[dataField].([]any)
	if !hasData {
		return nil, false, nil
	}
	switch {
	case m[typeTag] == typeBuffer || m[typeTag] == typeUint8Array:
	case m["type"] == typeBuffer && len(m) == 2:
	default:
		return nil, false, nil
	}

	b := make([]byte, len(data))
	for i, el := range data {
		n, ok := el.(json.Number)
		if !ok {
			return nil, true, fmt.Errorf("%w: buffer element %d is %T", ErrCorruptValue, i, el)
		}
		iv, err := n.Int64()
		if err != nil || iv < 0 || iv > 255 {
			return nil, true, fmt.Errorf("%w: buffer element %d out of range: %s", ErrCorruptValue, i, n)
		}
		b[i] = byte(iv)
	}
	return b, true, nil
}

// clone deep-copies a decoded tree so callers can hold snapshots that
// later merges will not mutate.
func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			out[i] = clone(child)
		}
		return out
	case []byte:
		if x == nil {
			return []byte(nil)
		}
		return append([]byte{}, x...)
	default:
		return v
	}
}
