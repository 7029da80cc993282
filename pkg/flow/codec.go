package flow

import "encoding/json"

// Codec converts samples to the bytes carried by a transport stream. Both
// sides of a stream must use the same codec.
type Codec[T any] interface {
	Encode(sample T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec is the default stream codec.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(sample T) ([]byte, error) {
	return json.Marshal(sample)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var sample T
	err := json.Unmarshal(data, &sample)
	return sample, err
}
