package audio

import (
	"fmt"
	"iter"
)

// Frames yields consecutive sub-slices of payload of at most size bytes.
// The frames share payload's backing array and must not be modified.
func Frames(payload []byte, size int) iter.Seq[[]byte] {
	if size < 1 {
		panic(fmt.Sprintf("audio: frame size must be positive, got %d", size))
	}
	return func(yield func([]byte) bool) {
		for off := 0; off < len(payload); off += size {
			end := min(off+size, len(payload))
			if !yield(payload[off:end:end]) {
				return
			}
		}
	}
}

func FrameCount(payloadBytes, size int) int {
	if payloadBytes <= 0 || size < 1 {
		return 0
	}
	return (payloadBytes + size - 1) / size
}
