// Package pcm converts between signed 16-bit PCM sample sequences and the
// little-endian byte buffers exchanged with realtime runtimes.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// BytesPerSample is the encoded width of one sample.
const BytesPerSample = 2

// ErrOddLength is reported when a buffer cannot be split into whole samples.
var ErrOddLength = errors.New("pcm: buffer length is not a multiple of 2")

// CodecError describes a buffer that could not be decoded.
type CodecError struct {
	Length int
	Err    error
}

func (e *CodecError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v (len=%d)", e.Err, e.Length)
}

func (e *CodecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Encode packs samples little-endian, two bytes per sample, in input order.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// Decode is the inverse of Encode. It fails with a *CodecError wrapping
// ErrOddLength when len(buf) is odd.
func Decode(buf []byte) ([]int16, error) {
	if len(buf)%BytesPerSample != 0 {
		return nil, &CodecError{Length: len(buf), Err: ErrOddLength}
	}
	out := make([]int16, len(buf)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*BytesPerSample:]))
	}
	return out, nil
}

// DurationMS returns the playback length of n samples of mono audio at
// sampleRateHz, rounded down.
func DurationMS(n, sampleRateHz int) int {
	if sampleRateHz <= 0 || n <= 0 {
		return 0
	}
	return n * 1000 / sampleRateHz
}
