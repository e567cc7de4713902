package audio

import "fmt"

// DecodeError reports PCM data that cannot be turned into a buffer.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode pcm: %s", e.Reason)
}

// EncodingError reports malformed base64 text.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("decode base64: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
