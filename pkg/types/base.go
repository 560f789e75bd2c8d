// Package types holds the object graph model moved through the loader: Bases,
// their property values and the Item envelope used by queues and caches.
package types

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotABase is returned when a document is not an object with a string id.
	ErrNotABase = errors.New("not a base")

	// ErrInvalidJSON is returned for documents that are not valid JSON.
	ErrInvalidJSON = errors.New("invalid json")
)

const (
	idKey          = "id"
	speckleTypeKey = "speckle_type"
	closureKey     = "__closure"
	referenceKey   = "referencedId"
)

// Base is a node of the content addressable object graph.
type Base struct {
	ID          string
	SpeckleType string

	// Closure maps every transitively reachable descendant id to its weight.
	// It is nil when the node has no descendants.
	Closure map[string]int

	Properties map[string]Value
}

// Item is the storage and transport envelope of a Base.
type Item struct {
	BaseID string `json:"baseId"`
	Base   *Base  `json:"base,omitempty"`

	// Size is the byte length of the encoded base as received from the network.
	Size int `json:"size,omitempty"`
}

// Get returns the property stored under key.
func (b *Base) Get(key string) (Value, bool) {
	if b == nil || b.Properties == nil {
		return Value{}, false
	}
	v, ok := b.Properties[key]
	return v, ok
}

// Set stores a property, allocating the property map when needed.
func (b *Base) Set(key string, v Value) {
	if b.Properties == nil {
		b.Properties = make(map[string]Value)
	}
	b.Properties[key] = v
}

// ChildIDs returns the closure ids ordered by descending weight, ties by id.
func (b *Base) ChildIDs() []string {
	if b == nil || len(b.Closure) == 0 {
		return nil
	}
	ids := make([]string, 0, len(b.Closure))
	for id := range b.Closure {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(x, y string) int {
		if c := cmp.Compare(b.Closure[y], b.Closure[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})
	return ids
}

// Equal reports whether two bases hold the same id, type, closure and properties.
func (b *Base) Equal(o *Base) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.ID != o.ID || b.SpeckleType != o.SpeckleType {
		return false
	}
	if len(b.Closure) != len(o.Closure) {
		return false
	}
	for k, w := range b.Closure {
		if ow, ok := o.Closure[k]; !ok || ow != w {
			return false
		}
	}
	return valueMapsEqual(b.Properties, o.Properties)
}

func (b *Base) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Base) UnmarshalJSON(data []byte) error {
	parsed, err := ParseBase(data)
	if err != nil {
		return err
	}
	*b = *parsed
	return nil
}

func (b *Base) encode(buf *bytes.Buffer) error {
	return b.encodeFields(buf, true)
}

// encodeFields writes the object form of b. Inline bases without an id keep
// omitting it so that re-encoding stays lossless.
func (b *Base) encodeFields(buf *bytes.Buffer, withID bool) error {
	buf.WriteByte('{')
	sep := ""
	field := func(key string) {
		buf.WriteString(sep)
		writeString(buf, key)
		buf.WriteByte(':')
		sep = ","
	}

	if withID || b.ID != "" {
		field(idKey)
		writeString(buf, b.ID)
	}
	if b.SpeckleType != "" {
		field(speckleTypeKey)
		writeString(buf, b.SpeckleType)
	}
	for _, k := range sortedKeys(b.Properties) {
		field(k)
		if err := b.Properties[k].encode(buf); err != nil {
			return fmt.Errorf("property %q of %s: %w", k, b.ID, err)
		}
	}
	if b.Closure != nil {
		field(closureKey)
		buf.WriteByte('{')
		for i, k := range sortedKeys(b.Closure) {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			fmt.Fprintf(buf, ":%d", b.Closure[k])
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return nil
}

// ParseBase decodes a JSON document into a Base.
func ParseBase(data []byte) (*Base, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() || root.Get(idKey).Type != gjson.String {
		return nil, ErrNotABase
	}
	return baseFromResult(root), nil
}

// ParseItem decodes the JSON of a Base downloaded or read for baseID. The
// returned errors carry the id the way the remote store reports them.
func ParseItem(baseID string, data []byte) (*Item, error) {
	base, err := ParseBase(data)
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return nil, fmt.Errorf("error parsing object %s: %w", baseID, err)
	case errors.Is(err, ErrNotABase):
		return nil, fmt.Errorf("%s is %w", baseID, err)
	case err != nil:
		return nil, err
	}
	return &Item{BaseID: baseID, Base: base}, nil
}

// PeekID returns the id field of a JSON document without decoding it.
func PeekID(data []byte) (string, bool) {
	r := gjson.GetBytes(data, idKey)
	return r.Str, r.Type == gjson.String
}

func baseFromResult(r gjson.Result) *Base {
	b := &Base{}
	r.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case idKey:
			b.ID = value.String()
		case speckleTypeKey:
			b.SpeckleType = value.String()
		case closureKey:
			if !value.IsObject() {
				b.Set(closureKey, valueFromResult(value))
				return true
			}
			b.Closure = make(map[string]int)
			value.ForEach(func(id, weight gjson.Result) bool {
				b.Closure[id.Str] = int(weight.Int())
				return true
			})
		default:
			b.Set(key.Str, valueFromResult(value))
		}
		return true
	})
	return b
}

func valueFromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Null()
	case gjson.False:
		return Bool(false)
	case gjson.True:
		return Bool(true)
	case gjson.Number:
		return Number(r.Raw)
	case gjson.String:
		return String(r.Str)
	}

	if r.IsArray() {
		elems := r.Array()
		items := make([]Value, 0, len(elems))
		for _, e := range elems {
			items = append(items, valueFromResult(e))
		}
		return Array(items...)
	}

	if ref := r.Get(referenceKey); ref.Type == gjson.String {
		return Reference(ref.Str)
	}

	st := r.Get(speckleTypeKey)
	if isDataChunkType(st.Str) && r.Get("data").IsArray() {
		return Value{kind: KindDataChunk, base: baseFromResult(r)}
	}
	if st.Exists() || r.Get(idKey).Exists() {
		return Nested(baseFromResult(r))
	}

	fields := make(map[string]Value)
	r.ForEach(func(key, value gjson.Result) bool {
		fields[key.Str] = valueFromResult(value)
		return true
	})
	return Object(fields)
}

func parseValue(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, ErrInvalidJSON
	}
	return valueFromResult(gjson.ParseBytes(data)), nil
}
