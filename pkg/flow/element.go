package flow

// ChannelElement is one stage of a connection. Samples travel forward from
// the output port through Write; reads travel backward from the input port
// through Read. Each element has at most one input and one output.
type ChannelElement[T any] interface {
	// Write pushes a sample forward. It returns false when the sample was
	// rejected.
	Write(sample T) bool
	// Read pulls a sample from upstream. With copyOldData an already read
	// sample is copied into sample and reported as OldData.
	Read(sample *T, copyOldData bool) FlowStatus
	// Signal notifies downstream that new data is available.
	Signal()
	// Clear drops all stored samples upstream of the caller.
	Clear()

	Input() ChannelElement[T]
	Output() ChannelElement[T]

	setInput(ChannelElement[T])
	setOutput(ChannelElement[T])
}

// link makes to the output of from.
func link[T any](from, to ChannelElement[T]) {
	from.setOutput(to)
	to.setInput(from)
}

// element forwards every call. Concrete elements embed it and override
// what they implement. Links are set while building a chain and never
// change after the chain is published to a port.
type element[T any] struct {
	input  ChannelElement[T]
	output ChannelElement[T]
}

func (e *element[T]) Input() ChannelElement[T]  { return e.input }
func (e *element[T]) Output() ChannelElement[T] { return e.output }

func (e *element[T]) setInput(in ChannelElement[T])   { e.input = in }
func (e *element[T]) setOutput(out ChannelElement[T]) { e.output = out }

func (e *element[T]) Write(sample T) bool {
	if e.output == nil {
		return false
	}
	return e.output.Write(sample)
}

func (e *element[T]) Read(sample *T, copyOldData bool) FlowStatus {
	if e.input == nil {
		return NoData
	}
	return e.input.Read(sample, copyOldData)
}

func (e *element[T]) Signal() {
	if e.output != nil {
		e.output.Signal()
	}
}

func (e *element[T]) Clear() {
	if e.input != nil {
		e.input.Clear()
	}
}
