package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind discriminates the variants a property Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
	KindReference
	KindDataChunk
	KindBase
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindReference:
		return "reference"
	case KindDataChunk:
		return "datachunk"
	case KindBase:
		return "base"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

const (
	referenceType  = "reference"
	dataChunkToken = "DataChunk"
)

// Value is a property value of a Base. The zero Value is null.
type Value struct {
	kind    Kind
	boolean bool
	// text holds a string, the literal of a number or a referenced id.
	text   string
	items  []Value
	fields map[string]Value
	// base holds a nested Base or the DataChunk envelope.
	base *Base
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

func String(s string) Value { return Value{kind: KindString, text: s} }

func Float(f float64) Value {
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

func Int(i int64) Value { return Value{kind: KindNumber, text: strconv.FormatInt(i, 10)} }

// Number keeps a JSON number literal verbatim.
func Number(literal string) Value { return Value{kind: KindNumber, text: literal} }

func Array(items ...Value) Value { return Value{kind: KindArray, items: items} }

func Object(fields map[string]Value) Value { return Value{kind: KindObject, fields: fields} }

// Reference is a stub pointing at another Base by id.
func Reference(id string) Value { return Value{kind: KindReference, text: id} }

// Nested wraps a Base that is stored inline in its parent.
func Nested(b *Base) Value { return Value{kind: KindBase, base: b} }

// DataChunk builds a chunk stub holding one segment of a parent array.
func DataChunk(id, speckleType string, data ...Value) Value {
	if speckleType == "" {
		speckleType = "Speckle.Core.Models.DataChunk"
	}
	return Value{kind: KindDataChunk, base: &Base{
		ID:          id,
		SpeckleType: speckleType,
		Properties:  map[string]Value{"data": Array(data...)},
	}}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

func (v Value) AsString() (string, bool) { return v.text, v.kind == KindString }

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	return f, err == nil
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	i, err := strconv.ParseInt(v.text, 10, 64)
	if err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// ReferencedID returns the target id of a reference stub.
func (v Value) ReferencedID() (string, bool) { return v.text, v.kind == KindReference }

func (v Value) AsBase() (*Base, bool) { return v.base, v.kind == KindBase }

// Items returns the elements of an array or the data segment of a DataChunk.
func (v Value) Items() []Value {
	switch v.kind {
	case KindArray:
		return v.items
	case KindDataChunk:
		if v.base == nil {
			return nil
		}
		return v.base.Properties["data"].items
	default:
		return nil
	}
}

func (v Value) Fields() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	return v.fields
}

// Chunk returns the envelope Base of a DataChunk stub.
func (v Value) Chunk() (*Base, bool) { return v.base, v.kind == KindDataChunk }

// Equal reports whether two values are structurally identical.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolean == o.boolean
	case KindString, KindReference:
		return v.text == o.text
	case KindNumber:
		a, aok := v.AsFloat()
		b, bok := o.AsFloat()
		if aok && bok {
			return a == b
		}
		return v.text == o.text
	case KindArray:
		return slices.EqualFunc(v.items, o.items, Value.Equal)
	case KindObject:
		return valueMapsEqual(v.fields, o.fields)
	case KindBase, KindDataChunk:
		return v.base.Equal(o.base)
	}
	return false
}

func valueMapsEqual(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := parseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.boolean))
	case KindNumber:
		if !json.Valid([]byte(v.text)) {
			return fmt.Errorf("invalid number literal %q", v.text)
		}
		buf.WriteString(v.text)
	case KindString:
		writeString(buf, v.text)
	case KindReference:
		buf.WriteString(`{"referencedId":`)
		writeString(buf, v.text)
		buf.WriteString(`,"speckle_type":"` + referenceType + `"}`)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		keys := sortedKeys(v.fields)
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := v.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindBase, KindDataChunk:
		if v.base == nil {
			buf.WriteString("null")
			return nil
		}
		return v.base.encodeFields(buf, false)
	default:
		return fmt.Errorf("unknown value kind %s", v.kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	// json.Marshal of a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isDataChunkType(speckleType string) bool {
	return strings.HasSuffix(speckleType, dataChunkToken)
}
