package flow

// dataElement stores the latest sample of a Data connection. In push mode
// every write signals downstream.
type dataElement[T any] struct {
	element[T]
	store  DataObject[T]
	signal bool
}

func (e *dataElement[T]) Write(sample T) bool {
	e.store.Set(sample)
	if e.signal {
		e.Signal()
	}
	return true
}

func (e *dataElement[T]) Read(sample *T, copyOldData bool) FlowStatus {
	return e.store.Get(sample, copyOldData)
}

func (e *dataElement[T]) Clear() {
	e.store.Clear()
	e.element.Clear()
}

// bufferElement queues samples of a Buffer connection. A rejected write
// signals nothing.
type bufferElement[T any] struct {
	element[T]
	store  BufferObject[T]
	signal bool
}

func (e *bufferElement[T]) Write(sample T) bool {
	if !e.store.Push(sample) {
		return false
	}
	if e.signal {
		e.Signal()
	}
	return true
}

func (e *bufferElement[T]) Read(sample *T, copyOldData bool) FlowStatus {
	if e.store.Pop(sample) {
		return NewData
	}
	return NoData
}

func (e *bufferElement[T]) Clear() {
	e.store.Clear()
	e.element.Clear()
}
