package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingCode is returned when a response body has no "code" field.
var ErrMissingCode = errors.New("response has no code field")

// CodeOK is the business code of a successful platform response
const CodeOK = 0

// Envelope is the {code, message, data} wrapper the platform puts around
// every JSON response. Raw keeps the full body for callers that need fields
// outside data.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// DecodeEnvelope parses body. A body that is not a JSON object, or has no
// code, is an error.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var wire struct {
		Code    *int            `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if wire.Code == nil {
		return nil, ErrMissingCode
	}
	return &Envelope{
		Code:    *wire.Code,
		Message: wire.Message,
		Data:    wire.Data,
		Raw:     json.RawMessage(body),
	}, nil
}

// OK reports a zero business code
func (e *Envelope) OK() bool {
	return e.Code == CodeOK
}

// HasData reports whether data is present and not null
func (e *Envelope) HasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

// DecodeData unmarshals data into dest. Absent data leaves dest untouched.
func (e *Envelope) DecodeData(dest interface{}) error {
	if !e.HasData() {
		return nil
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("invalid data field: %w", err)
	}
	return nil
}

// DataOrBody returns data when present, otherwise the whole body.
func (e *Envelope) DataOrBody() json.RawMessage {
	if e.HasData() {
		return e.Data
	}
	return e.Raw
}
