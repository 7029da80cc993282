package flow

import (
	"sync"
	"sync/atomic"
)

// BufferObject is the bounded FIFO of a Buffer connection.
type BufferObject[T any] interface {
	// Push appends a sample. It returns false when the buffer is full.
	Push(sample T) bool
	// Pop removes the oldest sample into out. It returns false when empty.
	Pop(out *T) bool
	Len() int
	Cap() int
	Clear()
}

// lockFreeBuffer is a single-producer single-consumer ring. head and tail
// grow monotonically; the slot of index i is i % len(slots).
type lockFreeBuffer[T any] struct {
	slots []T
	head  atomic.Uint64
	tail  atomic.Uint64
}

func NewLockFreeBuffer[T any](size int) BufferObject[T] {
	return &lockFreeBuffer[T]{slots: make([]T, size)}
}

func (b *lockFreeBuffer[T]) Push(sample T) bool {
	tail := b.tail.Load()
	if tail-b.head.Load() >= uint64(len(b.slots)) {
		return false
	}
	b.slots[tail%uint64(len(b.slots))] = sample
	b.tail.Store(tail + 1)
	return true
}

func (b *lockFreeBuffer[T]) Pop(out *T) bool {
	head := b.head.Load()
	if head == b.tail.Load() {
		return false
	}
	i := head % uint64(len(b.slots))
	*out = b.slots[i]
	var zero T
	b.slots[i] = zero
	b.head.Store(head + 1)
	return true
}

func (b *lockFreeBuffer[T]) Len() int {
	return int(b.tail.Load() - b.head.Load())
}

func (b *lockFreeBuffer[T]) Cap() int { return len(b.slots) }

// Clear drops pending samples. Only the consumer may call it.
func (b *lockFreeBuffer[T]) Clear() {
	var sample T
	for b.Pop(&sample) {
	}
}

type lockedBuffer[T any] struct {
	mu    sync.Mutex
	slots []T
	head  int
	count int
}

func NewLockedBuffer[T any](size int) BufferObject[T] {
	return &lockedBuffer[T]{slots: make([]T, size)}
}

func (b *lockedBuffer[T]) Push(sample T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.slots) {
		return false
	}
	b.slots[(b.head+b.count)%len(b.slots)] = sample
	b.count++
	return true
}

func (b *lockedBuffer[T]) Pop(out *T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return false
	}
	*out = b.slots[b.head]
	var zero T
	b.slots[b.head] = zero
	b.head = (b.head + 1) % len(b.slots)
	b.count--
	return true
}

func (b *lockedBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *lockedBuffer[T]) Cap() int { return len(b.slots) }

func (b *lockedBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.slots)
	b.head = 0
	b.count = 0
}
