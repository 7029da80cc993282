package flow

import (
	"sync"
	"sync/atomic"
)

// DataObject holds the most recent sample of a Data connection.
type DataObject[T any] interface {
	Set(sample T)
	// Get copies the sample into out. It reports NewData the first time a
	// sample is read, OldData afterwards (only copied with copyOldData),
	// and NoData before the first Set.
	Get(out *T, copyOldData bool) FlowStatus
	Clear()
}

type dataSample[T any] struct {
	value T
	seq   uint64
}

// lockFreeData publishes immutable samples through an atomic pointer. A
// writer never waits for a reader and a reader never observes a torn
// sample.
type lockFreeData[T any] struct {
	current atomic.Pointer[dataSample[T]]
	seq     atomic.Uint64
	read    atomic.Uint64
}

func NewLockFreeData[T any]() DataObject[T] {
	return &lockFreeData[T]{}
}

func (d *lockFreeData[T]) Set(sample T) {
	d.current.Store(&dataSample[T]{value: sample, seq: d.seq.Add(1)})
}

func (d *lockFreeData[T]) Get(out *T, copyOldData bool) FlowStatus {
	s := d.current.Load()
	if s == nil {
		return NoData
	}
	if d.read.Swap(s.seq) != s.seq {
		*out = s.value
		return NewData
	}
	if copyOldData {
		*out = s.value
	}
	return OldData
}

func (d *lockFreeData[T]) Clear() {
	d.current.Store(nil)
}

type lockedData[T any] struct {
	mu    sync.Mutex
	value T
	has   bool
	fresh bool
}

func NewLockedData[T any]() DataObject[T] {
	return &lockedData[T]{}
}

func (d *lockedData[T]) Set(sample T) {
	d.mu.Lock()
	d.value = sample
	d.has = true
	d.fresh = true
	d.mu.Unlock()
}

func (d *lockedData[T]) Get(out *T, copyOldData bool) FlowStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.has {
		return NoData
	}
	if d.fresh {
		d.fresh = false
		*out = d.value
		return NewData
	}
	if copyOldData {
		*out = d.value
	}
	return OldData
}

func (d *lockedData[T]) Clear() {
	d.mu.Lock()
	var zero T
	d.value = zero
	d.has = false
	d.fresh = false
	d.mu.Unlock()
}
