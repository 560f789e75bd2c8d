package queue

import (
	"encoding/json"
	"errors"
	"unicode/utf8"

	"github.com/specklesystems/objectloader2/internal/ringbuffer"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var errInvalidUTF8 = errors.New("frame is not valid utf-8")

// ItemCodec frames Items as JSON.
var ItemCodec = Codec[*types.Item]{
	Encode: func(item *types.Item) ([]byte, error) {
		return json.Marshal(item)
	},
	Decode: func(b []byte) (*types.Item, error) {
		var item types.Item
		if err := json.Unmarshal(b, &item); err != nil {
			return nil, err
		}
		return &item, nil
	},
}

// StringCodec frames strings as their UTF-8 bytes.
var StringCodec = Codec[string]{
	Encode: func(s string) ([]byte, error) {
		return []byte(s), nil
	},
	Decode: func(b []byte) (string, error) {
		if !utf8.Valid(b) {
			return "", errInvalidUTF8
		}
		return string(b), nil
	},
}

type ItemQueue = ObjectQueue[*types.Item]

type StringQueue = ObjectQueue[string]

func NewItemQueue(ring *ringbuffer.Queue, opts ...Option[*types.Item]) *ItemQueue {
	return New(ring, ItemCodec, opts...)
}

func NewStringQueue(ring *ringbuffer.Queue, opts ...Option[string]) *StringQueue {
	return New(ring, StringCodec, opts...)
}
