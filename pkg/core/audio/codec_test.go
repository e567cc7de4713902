package audio

import (
	"errors"
	"math"
	"testing"
)

func TestEncode_LittleEndianAndTag(t *testing.T) {
	blob := Encode([]float32{0, 0.5, -0.5, -1}, 16000)

	if blob.Encoding != EncodingPCM {
		t.Fatalf("Encoding = %q, want %q", blob.Encoding, EncodingPCM)
	}
	if blob.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", blob.SampleRate)
	}
	if got := blob.MIMEType(); got != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType() = %q", got)
	}

	want := []byte{
		0x00, 0x00, // 0
		0x00, 0x40, // 16384
		0x00, 0xC0, // -16384
		0x00, 0x80, // -32768
	}
	if len(blob.Data) != len(want) {
		t.Fatalf("len(Data) = %d, want %d", len(blob.Data), len(want))
	}
	for i := range want {
		if blob.Data[i] != want[i] {
			t.Fatalf("Data[%d] = %#x, want %#x", i, blob.Data[i], want[i])
		}
	}
}

func TestEncode_ClampsInsteadOfWrapping(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{name: "above range", sample: 1.7, want: 32767},
		{name: "exactly one", sample: 1, want: 32767},
		{name: "below range", sample: -3, want: -32768},
		{name: "positive infinity", sample: float32(math.Inf(1)), want: 32767},
		{name: "negative infinity", sample: float32(math.Inf(-1)), want: -32768},
		{name: "nan", sample: float32(math.NaN()), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := Encode([]float32{tt.sample}, 16000)
			got := int16(uint16(blob.Data[0]) | uint16(blob.Data[1])<<8)
			if got != tt.want {
				t.Fatalf("encoded %v = %d, want %d", tt.sample, got, tt.want)
			}
		})
	}
}

func TestEncodeDecode_RoundTripWithinQuantization(t *testing.T) {
	samples := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		samples = append(samples, float32(i)/1000)
	}
	samples = append(samples, 0.123456, -0.999999, 0.000001)

	buf, err := Decode(Encode(samples, 16000).Data, 16000, 1)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(buf.Samples) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Samples), len(samples))
	}
	const bound = 1.0 / 32768
	for i, s := range samples {
		if diff := math.Abs(float64(buf.Samples[i] - s)); diff > bound+1e-9 {
			t.Fatalf("sample %d: got %v want %v (diff %g > %g)", i, buf.Samples[i], s, diff, bound)
		}
	}
}

func TestDecode_RejectsPartialFrames(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03}, 24000, 1)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}

	_, err = Decode([]byte{0, 0, 0, 0, 0, 0}, 24000, 2)
	if !errors.As(err, &decodeErr) {
		t.Fatalf("stereo error = %v, want *DecodeError", err)
	}
}

func TestDecode_BufferMetadata(t *testing.T) {
	buf, err := Decode(make([]byte, 48000), 24000, 1)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if buf.SampleRate != 24000 || buf.Channels != 1 {
		t.Fatalf("buffer = %d Hz / %d ch", buf.SampleRate, buf.Channels)
	}
	if buf.Frames() != 24000 {
		t.Fatalf("Frames() = %d, want 24000", buf.Frames())
	}
	if buf.Seconds() != 1 {
		t.Fatalf("Seconds() = %v, want 1", buf.Seconds())
	}
}

func TestBytesFromBase64(t *testing.T) {
	got, err := BytesFromBase64("AAEC")
	if err != nil {
		t.Fatalf("BytesFromBase64() error = %v", err)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("decoded = %v", got)
	}

	if enc := ToBase64(got); enc != "AAEC" {
		t.Fatalf("ToBase64() = %q, want AAEC", enc)
	}

	_, err = BytesFromBase64("not base64!!")
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("error = %v, want *EncodingError", err)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{name: "empty", samples: nil, expected: 0},
		{name: "silence", samples: []float32{0, 0, 0, 0}, expected: 0},
		{name: "full scale", samples: []float32{1, -1, 1, -1}, expected: 1},
		{name: "half amplitude", samples: []float32{0.5, -0.5, 0.5, -0.5}, expected: 0.5},
		{name: "clipped input", samples: []float32{4, -4}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.samples); math.Abs(got-tt.expected) > 1e-6 {
				t.Fatalf("RMS() = %.4f, want %.4f", got, tt.expected)
			}
		})
	}
}
