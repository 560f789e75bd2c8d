// Package ringbuffer implements a fixed capacity byte ring shared by a single
// writer and a single reader that may live in different goroutines. Frames are
// written as a 4 byte little endian length followed by the payload and wrap
// around the end of the region.
package ringbuffer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// headerSize is the length prefix of every frame.
const headerSize = 4

var (
	ErrInvalidCapacity = errors.New("ring buffer capacity must leave room for a frame header")
	ErrSharedMismatch  = errors.New("shared region does not match the requested capacity")
)

// Shared is the region handed from one side to the other. The three counters
// are the only state both sides mutate.
type Shared struct {
	writeOffset atomic.Int32
	readOffset  atomic.Int32
	usedBytes   atomic.Int32

	data []byte

	dataReady  notifier
	spaceFreed notifier

	// serialize callers sharing one side of the ring
	writeMu sync.Mutex
	readMu  sync.Mutex
}

// Capacity returns the size of the data region in bytes.
func (s *Shared) Capacity() int {
	return len(s.data)
}

// Queue is one handle on a Shared region.
type Queue struct {
	shared   *Shared
	capacity int32
	name     string
}

// Create allocates a new region of capacityBytes and returns the first handle on it.
// An empty name is replaced by a generated one.
func Create(capacityBytes int, name string) (*Queue, error) {
	if capacityBytes <= headerSize || capacityBytes > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacityBytes)
	}

	s := &Shared{data: make([]byte, capacityBytes)}
	s.dataReady.init()
	s.spaceFreed.init()

	return newQueue(s, capacityBytes, name), nil
}

// FromExisting attaches a handle to a region created elsewhere.
func FromExisting(shared *Shared, capacityBytes int, name string) (*Queue, error) {
	if shared == nil {
		return nil, fmt.Errorf("%w: nil region", ErrSharedMismatch)
	}
	if shared.Capacity() != capacityBytes {
		return nil, fmt.Errorf("%w: region holds %d bytes, expected %d", ErrSharedMismatch, shared.Capacity(), capacityBytes)
	}

	return newQueue(shared, capacityBytes, name), nil
}

func newQueue(s *Shared, capacityBytes int, name string) *Queue {
	if name == "" {
		name = ulid.Make().String()
	}
	return &Queue{shared: s, capacity: int32(capacityBytes), name: name}
}

func (q *Queue) Shared() *Shared { return q.shared }

func (q *Queue) Name() string { return q.name }

func (q *Queue) Capacity() int { return int(q.capacity) }

// Len returns the number of committed bytes, frame headers included.
func (q *Queue) Len() int { return int(q.shared.usedBytes.Load()) }

func (q *Queue) IsEmpty() bool { return q.shared.usedBytes.Load() == 0 }

// IsFull reports whether no more bytes can be written. One byte of the region
// is never used so that a full ring and an empty ring have different offsets.
func (q *Queue) IsFull() bool { return q.shared.usedBytes.Load() >= q.usable() }

func (q *Queue) usable() int32 { return q.capacity - 1 }

// MaxPayload returns the largest payload a single frame can carry.
func (q *Queue) MaxPayload() int { return int(q.usable()) - headerSize }

// Enqueue writes payload as a single frame. It waits at most timeout for
// enough free space and returns false if the frame could not be written.
// Nothing is written on failure.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, timeout time.Duration) bool {
	frameLen := int64(headerSize) + int64(len(payload))
	if frameLen > int64(q.usable()) {
		return false
	}
	size := int32(frameLen)

	s := q.shared
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var timer *time.Timer
	for {
		freed := s.spaceFreed.wait()
		if q.usable()-s.usedBytes.Load() >= size {
			break
		}

		if timer == nil {
			if timeout <= 0 {
				return false
			}
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		select {
		case <-freed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}

	w := s.writeOffset.Load()
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	w = q.put(w, header[:])
	w = q.put(w, payload)

	// publish the frame only after all of its bytes are in place
	s.writeOffset.Store(w)
	s.usedBytes.Add(size)
	s.dataReady.notify()

	return true
}

// Dequeue reads the next frame, waiting at most timeout for one to be committed.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	s := q.shared
	s.readMu.Lock()
	defer s.readMu.Unlock()

	var timer *time.Timer
	for {
		ready := s.dataReady.wait()
		if s.usedBytes.Load() >= headerSize {
			break
		}

		if timer == nil {
			if timeout <= 0 {
				return nil, false
			}
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		select {
		case <-ready:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}

	r := s.readOffset.Load()
	var header [headerSize]byte
	r = q.get(r, header[:])
	n := binary.LittleEndian.Uint32(header[:])
	if int64(n)+headerSize > int64(s.usedBytes.Load()) {
		// The writer never commits partial frames, so the region was corrupted.
		return nil, false
	}

	payload := make([]byte, n)
	r = q.get(r, payload)

	s.readOffset.Store(r)
	s.usedBytes.Add(-int32(n + headerSize))
	s.spaceFreed.notify()

	return payload, true
}

// put copies b into the region starting at offset, wrapping as needed, and
// returns the offset following the copied bytes.
func (q *Queue) put(offset int32, b []byte) int32 {
	data := q.shared.data
	n := copy(data[offset:], b)
	if n < len(b) {
		copy(data, b[n:])
	}
	return int32((int64(offset) + int64(len(b))) % int64(q.capacity))
}

func (q *Queue) get(offset int32, b []byte) int32 {
	data := q.shared.data
	n := copy(b, data[offset:])
	if n < len(b) {
		copy(b[n:], data)
	}
	return int32((int64(offset) + int64(len(b))) % int64(q.capacity))
}
