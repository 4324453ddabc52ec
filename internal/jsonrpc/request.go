package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Request is the method descriptor handed to a provider and forwarded to the
// wallet process. ID is assigned by the transport.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Validate checks that the request names a method
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	if r.JSONRPC != "" && r.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version: %s", r.JSONRPC)
	}
	return nil
}

// Clone creates a copy of the request
func (r *Request) Clone() *Request {
	clone := &Request{
		JSONRPC: r.JSONRPC,
		Method:  r.Method,
		ID:      r.ID,
	}
	if r.Params != nil {
		clone.Params = make(json.RawMessage, len(r.Params))
		copy(clone.Params, r.Params)
	}
	return clone
}

// NewRequest creates a request for method with params marshaled to JSON
func NewRequest(method string, params interface{}) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		Method:  method,
	}

	if params != nil {
		paramsBytes, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = paramsBytes
	}

	return req, nil
}

// MustRequest is NewRequest for params known to marshal
func MustRequest(method string, params interface{}) *Request {
	req, err := NewRequest(method, params)
	if err != nil {
		panic(err)
	}
	return req
}

// ParseRequest parses a single JSON-RPC request from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// trimWhitespace removes leading whitespace from byte slice
func trimWhitespace(data []byte) []byte {
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return data[i:]
		}
	}
	return data
}
