// Package worker runs cache persistence on a dedicated goroutine that is fed
// through a ring buffer. The two sides only share the ring region and a small
// set of handshake messages.
package worker

import (
	"github.com/specklesystems/objectloader2/internal/ringbuffer"
)

// MessageType names a handshake message.
type MessageType int

const (
	MessageInitQueues MessageType = iota
	MessageWorkerReady
	MessageWorkerInitFailed
	MessageWorkerProcessingError
)

func (t MessageType) String() string {
	switch t {
	case MessageInitQueues:
		return "INIT_QUEUES"
	case MessageWorkerReady:
		return "WORKER_READY"
	case MessageWorkerInitFailed:
		return "WORKER_INIT_FAILED"
	case MessageWorkerProcessingError:
		return "WORKER_PROCESSING_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Message is one of InitQueues, WorkerReady, WorkerInitFailed or
// WorkerProcessingError.
type Message interface {
	Type() MessageType
}

// InitQueues hands the ring region to the writer.
type InitQueues struct {
	Shared   *ringbuffer.Shared
	Capacity int
	Name     string
}

type WorkerReady struct{}

type WorkerInitFailed struct {
	Err error
}

type WorkerProcessingError struct {
	Err error
}

func (InitQueues) Type() MessageType { return MessageInitQueues }

func (WorkerReady) Type() MessageType { return MessageWorkerReady }

func (WorkerInitFailed) Type() MessageType { return MessageWorkerInitFailed }

func (WorkerProcessingError) Type() MessageType { return MessageWorkerProcessingError }
