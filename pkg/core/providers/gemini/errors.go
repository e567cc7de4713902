package gemini

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/core/live"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

var errNoAPIKey = fmt.Errorf("gemini: no API key configured: %w", live.ErrInvalidCredential)

// Error represents a failure reported by the Gemini Live service, either as
// an HTTP status during the websocket handshake or as a close frame.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Status  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: %s: %s (code: %d %s)", e.Type, e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("gemini: %s: %s (code: %d)", e.Type, e.Message, e.Code)
}

// Unwrap ties credential failures to live.ErrInvalidCredential.
func (e *Error) Unwrap() error {
	switch e.Type {
	case ErrAuthentication, ErrPermission, ErrNotFound:
		return live.ErrInvalidCredential
	default:
		return nil
	}
}

// geminiError represents an error response body from the Gemini API.
type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// errorFromHandshake builds an Error from a rejected websocket upgrade.
func errorFromHandshake(resp *http.Response) *Error {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	}

	e := &Error{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	var ge geminiError
	if len(body) > 0 && sonic.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		e.Message = ge.Error.Message
		e.Status = ge.Error.Status
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}

	switch e.Status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		e.Type = ErrInvalidRequest
	case "UNAUTHENTICATED":
		e.Type = ErrAuthentication
	case "PERMISSION_DENIED":
		e.Type = ErrPermission
	case "NOT_FOUND":
		e.Type = ErrNotFound
	case "RESOURCE_EXHAUSTED":
		e.Type = ErrRateLimit
	case "INTERNAL":
		e.Type = ErrAPI
	case "UNAVAILABLE":
		e.Type = ErrOverloaded
	default:
		e.Type = ErrProvider
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Type = ErrAuthentication
	case http.StatusNotFound:
		e.Type = ErrNotFound
	case http.StatusTooManyRequests:
		e.Type = ErrRateLimit
	case http.StatusServiceUnavailable:
		e.Type = ErrOverloaded
	}
	return e
}

// errorFromClose builds an Error from an abnormal close frame. The service
// reports rejected keys and unknown models as policy or payload closes with
// the reason in the close text.
func errorFromClose(ce *websocket.CloseError) *Error {
	e := &Error{Code: ce.Code, Message: ce.Text}
	switch ce.Code {
	case websocket.ClosePolicyViolation:
		e.Type = ErrPermission
	case websocket.CloseInvalidFramePayloadData:
		e.Type = ErrInvalidRequest
	case websocket.CloseInternalServerErr:
		e.Type = ErrAPI
	case websocket.CloseTryAgainLater:
		e.Type = ErrOverloaded
	default:
		e.Type = ErrProvider
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("connection closed with code %d", ce.Code)
	}
	return e
}

// isNormalClose reports whether err is a clean, server-initiated close.
func isNormalClose(err error) (reason string, ok bool) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return "", false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return ce.Text, true
	}
	return "", false
}

// streamError maps a receive failure to the error reported to the session.
func streamError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return errorFromClose(ce)
	}
	return err
}
