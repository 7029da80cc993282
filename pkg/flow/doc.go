// Package flow implements typed data-flow ports and the connections between
// them.
//
// An OutputPort is connected to an InputPort with a ConnPolicy, which
// selects a chain of channel elements:
//
//	output endpoint -> storage (data or buffer) -> input endpoint
//
// Data connections hold the latest sample; Buffer connections queue up to
// Size samples and reject writes when full. In push mode the write raises
// the input port's new-data event; in pull mode the event is raised by the
// read that obtains new data.
//
// A policy with a non-local Transport replaces the storage by a pair of
// named streams, so that the reader may live in another process. A stream
// raises the new-data event when a sample arrives, in either mode:
//
//	out := flow.NewOutputPort[float64]("setpoint")
//	err := out.CreateStream(flow.ConnPolicy{
//		Type:      flow.Buffer,
//		Size:      3,
//		Transport: transport.MQueue,
//		NameID:    "setpoint",
//	})
//
// and in the reading process
//
//	in := flow.NewInputPort[float64]("setpoint")
//	err := in.CreateStream(samePolicy)
package flow
