package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// TransportError is a connection-level failure: DNS, refused connection,
// timeout, or a stream that broke while reading.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProviderError is a well-formed HTTP exchange the provider rejected, or a
// stream whose payload could not be decoded.
type ProviderError struct {
	StatusCode int // 0 when the stream itself was malformed
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider error: %s", e.Message)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

const (
	notEventStream = "malformed stream: response is not an event stream"
	noDataEvents   = "malformed stream: response carried no data events"
)

// classifyError maps go-openai and net/http failures onto the two error kinds
func classifyError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}

	// A JSON body without an error object decodes to a typed nil *APIError
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr == nil {
			return &ProviderError{Message: notEventStream}
		}
		return &ProviderError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr == nil {
			return &ProviderError{Message: notEventStream}
		}
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &ProviderError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}

	if errors.Is(err, openai.ErrTooManyEmptyStreamMessages) {
		return &ProviderError{Message: noDataEvents, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ProviderError{Message: "malformed stream chunk: " + err.Error(), Err: err}
	}

	return &TransportError{Err: err}
}
