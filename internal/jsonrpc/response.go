package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// NewResponse creates a successful response
func NewResponse(id ID, result interface{}) (*Response, error) {
	resp := &Response{
		JSONRPC: Version,
		ID:      id,
	}

	if result != nil {
		resultBytes, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		resp.Result = resultBytes
	}

	return resp, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   err,
		ID:      id,
	}
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// Message is one inbound frame from the wallet process: exactly one of
// Response or Notification is set
type Message struct {
	Response     *Response
	Notification *Notification
}

// envelope holds every field a frame may carry so one decode can classify it
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      ID              `json:"id"`
}

// ParseMessage decodes a frame and classifies it. Frames with a method and no
// id are push notifications; everything else must be a response.
func ParseMessage(data []byte) (*Message, error) {
	data = trimWhitespace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("frame is not a JSON object")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}

	if env.Method != "" && env.ID.IsNull() {
		return &Message{Notification: &Notification{
			JSONRPC: env.JSONRPC,
			Method:  env.Method,
			Params:  env.Params,
		}}, nil
	}
	if env.ID.IsNull() {
		return nil, fmt.Errorf("response frame without id")
	}
	return &Message{Response: &Response{
		JSONRPC: env.JSONRPC,
		Result:  env.Result,
		Error:   env.Error,
		ID:      env.ID,
	}}, nil
}

// SerializeError converts any error into the standard RPC error shape.
// Errors that already carry a code pass through unchanged; anything else
// becomes an internal error that keeps the original message as data.
func SerializeError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewErrorWithData(CodeInternalError, "Internal JSON-RPC error.", map[string]string{
		"originalError": err.Error(),
	})
}
