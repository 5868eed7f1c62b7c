// Package jsonrpc defines the JSON-RPC 2.0 envelope exchanged on both edges
// of the gateway: newline-delimited frames on stdio and HTTP bodies toward
// backends. Correlation ids are held as raw JSON so they round-trip without
// any transformation.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the protocol marker carried by every envelope.
const Version = "2.0"

// Error codes produced by the gateway, per the JSON-RPC 2.0 convention.
// These are a fixed external contract.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeBackendError   = -32000
)

// Request is an inbound envelope. ID and Params stay raw so a request can be
// re-serialized byte-identically when forwarded to a backend.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound envelope. The ID field has no omitempty: a nil raw
// id serializes as null, which is what error responses for unparsable input
// must carry.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a response envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewResult builds a success response echoing the given correlation id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response echoing the given correlation id.
func NewError(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

// SalvageID attempts to recover the "id" member from a line that failed to
// parse as a full envelope. It walks the token stream of the object prefix, so
// an id appearing before the malformed region is still recovered. Returns nil
// when nothing can be salvaged.
func SalvageID(line []byte) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(line))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	for {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil
		}
		if key == "id" {
			return value
		}
	}
}
