package batching

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// KeyedQueue is an insertion ordered set of values addressed by key. It is not
// safe for concurrent use.
type KeyedQueue[K comparable, V any] struct {
	values map[K]V
	order  *linkedlistqueue.Queue
}

func NewKeyedQueue[K comparable, V any]() *KeyedQueue[K, V] {
	return &KeyedQueue[K, V]{
		values: make(map[K]V),
		order:  linkedlistqueue.New(),
	}
}

// Enqueue appends value under key. A key already present keeps its first value
// and position, and Enqueue reports false.
func (q *KeyedQueue[K, V]) Enqueue(key K, value V) bool {
	if _, ok := q.values[key]; ok {
		return false
	}
	q.values[key] = value
	q.order.Enqueue(key)
	return true
}

func (q *KeyedQueue[K, V]) Get(key K) (V, bool) {
	v, ok := q.values[key]
	return v, ok
}

func (q *KeyedQueue[K, V]) Has(key K) bool {
	_, ok := q.values[key]
	return ok
}

func (q *KeyedQueue[K, V]) Len() int {
	return len(q.values)
}

// SpliceValues removes up to deleteCount values starting at position start and
// returns them in order.
func (q *KeyedQueue[K, V]) SpliceValues(start, deleteCount int) []V {
	if start < 0 {
		start = 0
	}
	if deleteCount <= 0 || start >= q.Len() {
		return nil
	}
	deleteCount = min(deleteCount, q.Len()-start)
	out := make([]V, 0, deleteCount)

	if start == 0 {
		for len(out) < deleteCount {
			k, _ := q.order.Dequeue()
			key := k.(K)
			out = append(out, q.values[key])
			delete(q.values, key)
		}
		return out
	}

	kept := linkedlistqueue.New()
	for i := 0; !q.order.Empty(); i++ {
		k, _ := q.order.Dequeue()
		key := k.(K)
		if i >= start && len(out) < deleteCount {
			out = append(out, q.values[key])
			delete(q.values, key)
			continue
		}
		kept.Enqueue(key)
	}
	q.order = kept
	return out
}

// GetAllValuesAndClear empties the queue and returns every value in order.
func (q *KeyedQueue[K, V]) GetAllValuesAndClear() []V {
	return q.SpliceValues(0, q.Len())
}
