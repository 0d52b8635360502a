// Package jsonrpc provides the JSON-RPC 2.0 envelope types spoken between the proxy, its clients, and the MCP
// servers it supervises.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only JSON-RPC protocol version accepted.
const Version = "2.0"

// Standard and application error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeAccessDenied is returned when a caller's scopes deny a request.
	CodeAccessDenied = -32000
)

// ID is a JSON-RPC request identifier, either an integer or a string.
// ID is comparable and safe to use as a map key.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// NewNumberID returns a numeric ID.
func NewNumberID(n int64) ID {
	return ID{num: n}
}

// NewStringID returns a string ID.
func NewStringID(s string) ID {
	return ID{str: s, isStr: true}
}

// IsString reports whether the ID holds a string.
func (id ID) IsString() bool {
	return id.isStr
}

// Number returns the numeric value and whether the ID is numeric.
func (id ID) Number() (int64, bool) {
	return id.num, !id.isStr
}

// String returns a printable form of the ID.
func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty id")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
		*id = NewStringID(s)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer or string, got %s", string(data))
	}
	*id = NewNumberID(n)

	return nil
}

// Request is a JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a Response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request with the given id. The params value is marshaled to JSON when non-nil.
func NewRequest(id ID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a request without an id.
func NewNotification(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{JSONRPC: Version, Method: method, Params: raw}, nil
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Validate checks the envelope.
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("unsupported jsonrpc version %q", r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// ParamsMap decodes the params as a JSON object. Absent params yield an empty map.
func (r *Request) ParamsMap() (map[string]any, error) {
	m := map[string]any{}
	if len(r.Params) == 0 || bytes.Equal(bytes.TrimSpace(r.Params), []byte("null")) {
		return m, nil
	}
	if err := json.Unmarshal(r.Params, &m); err != nil {
		return nil, fmt.Errorf("params must be an object: %w", err)
	}
	return m, nil
}

// Clone returns a copy of the request that can be modified independently (e.g. when assigning an id).
func (r *Request) Clone() *Request {
	c := *r
	if r.ID != nil {
		id := *r.ID
		c.ID = &id
	}
	if r.Params != nil {
		c.Params = append(json.RawMessage(nil), r.Params...)
	}
	return &c
}

// NewResult builds a success response. The result value is marshaled to JSON.
func NewResult(id *ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}

	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id *ID, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// IsError reports whether the response carries an error.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// DecodeResult unmarshals the result into v.
func (r *Response) DecodeResult(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return fmt.Errorf("response has no result")
	}
	return json.Unmarshal(r.Result, v)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}

	return raw, nil
}
