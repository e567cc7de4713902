// Package audio converts between captured float samples, 16-bit linear PCM
// wire blobs, and playable buffers.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// EncodingPCM is the encoding tag carried by every Blob produced by Encode.
const EncodingPCM = "audio/pcm"

// Blob is an encoded chunk of 16-bit signed little-endian mono PCM.
type Blob struct {
	Encoding   string
	SampleRate int
	Data       []byte
}

// MIMEType returns the media type used on the wire, e.g. "audio/pcm;rate=16000".
func (b Blob) MIMEType() string {
	enc := b.Encoding
	if enc == "" {
		enc = EncodingPCM
	}
	if b.SampleRate <= 0 {
		return enc
	}
	return fmt.Sprintf("%s;rate=%d", enc, b.SampleRate)
}

// Buffer is decoded audio ready to be scheduled on an output clock.
// Samples are interleaved when Channels > 1.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Seconds returns the playback length in seconds.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Duration returns the playback length.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Seconds() * float64(time.Second))
}

// Encode quantizes samples to 16-bit PCM. Values outside [-1, 1] are clamped
// and NaN becomes silence.
func Encode(samples []float32, sampleRate int) Blob {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(quantize(s)))
	}
	return Blob{
		Encoding:   EncodingPCM,
		SampleRate: sampleRate,
		Data:       data,
	}
}

func quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Decode converts 16-bit signed little-endian PCM into a float buffer.
func Decode(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}
	if channels <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, &DecodeError{
			Reason: fmt.Sprintf("%d bytes is not a whole number of %d-byte frames", len(data), frameBytes),
		}
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
	}, nil
}

// BytesFromBase64 decodes standard (padded) base64 text.
func BytesFromBase64(text string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return b, nil
}

// ToBase64 encodes data as standard (padded) base64 text.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// RMS returns the root-mean-square level of a block of samples in [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		return 1
	}
	return rms
}
