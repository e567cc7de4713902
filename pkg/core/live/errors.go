package live

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCredential is wrapped by transports when the remote service
	// rejects or cannot find the configured credential.
	ErrInvalidCredential = errors.New("invalid or missing credential")

	// ErrHandshakeTimeout is reported when the stream does not open in time.
	ErrHandshakeTimeout = errors.New("stream handshake timed out")
)

const (
	credentialMessage   = "The API key is missing or not permitted to use this model. Select a valid key and connect again."
	connectivityMessage = "Could not reach the voice service. Check your network connection and try again."
)

// PermissionError reports a microphone that could not be acquired.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone access failed: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// TransportPhase tells whether a transport error happened while opening the
// stream or after it was established.
type TransportPhase string

const (
	PhaseOpen    TransportPhase = "open"
	PhaseRuntime TransportPhase = "runtime"
)

// TransportErrorKind classifies transport failures for the user.
type TransportErrorKind string

const (
	KindCredential   TransportErrorKind = "credential"
	KindConnectivity TransportErrorKind = "connectivity"
)

// TransportError is a fatal stream failure.
type TransportError struct {
	Phase TransportPhase
	Kind  TransportErrorKind
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s error (%s): %v", e.Phase, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Details returns the message shown to the user for this error.
func (e *TransportError) Details() string {
	if e.Kind == KindCredential {
		return credentialMessage
	}
	return connectivityMessage
}

// ClassifyTransportError wraps err in a TransportError of the right kind.
func ClassifyTransportError(phase TransportPhase, err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	kind := KindConnectivity
	if isCredentialError(err) {
		kind = KindCredential
	}
	return &TransportError{Phase: phase, Kind: kind, Err: err}
}

var credentialHints = []string{
	"requested entity was not found",
	"api key not valid",
	"api_key_invalid",
	"invalid api key",
	"missing api key",
	"permission denied",
	"permission_denied",
	"unauthenticated",
}

func isCredentialError(err error) bool {
	if errors.Is(err, ErrInvalidCredential) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range credentialHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// statusDetails returns the human-readable reason reported with StatusError.
func statusDetails(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Details()
	}
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
