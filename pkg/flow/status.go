package flow

// FlowStatus is the result of a read.
type FlowStatus int

const (
	// NoData means nothing was ever available on the connection.
	NoData FlowStatus = iota
	// OldData means the sample was already read before.
	OldData
	// NewData means the sample has not been read before.
	NewData
)

func (s FlowStatus) String() string {
	switch s {
	case OldData:
		return "old_data"
	case NewData:
		return "new_data"
	}
	return "no_data"
}

// WriteStatus is the result of a write.
type WriteStatus int

const (
	WriteSuccess WriteStatus = iota
	// WriteFailure means at least one connection rejected the sample.
	WriteFailure
	NotConnected
)

func (s WriteStatus) String() string {
	switch s {
	case WriteFailure:
		return "failure"
	case NotConnected:
		return "not_connected"
	}
	return "success"
}
