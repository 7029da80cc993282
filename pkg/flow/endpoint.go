package flow

// outputEndpoint is the head of a chain, owned by the output port.
type outputEndpoint[T any] struct {
	element[T]
}

// inputEndpoint is the tail of a chain, owned by the input port. It turns
// a signal, or a successful pull, into the port's new-data event.
type inputEndpoint[T any] struct {
	element[T]
	port *InputPort[T]
	pull bool
}

func (e *inputEndpoint[T]) Write(T) bool { return false }

func (e *inputEndpoint[T]) Signal() {
	e.port.newData()
}

func (e *inputEndpoint[T]) Read(sample *T, copyOldData bool) FlowStatus {
	status := e.element.Read(sample, copyOldData)
	if e.pull && status == NewData {
		e.port.newData()
	}
	return status
}
