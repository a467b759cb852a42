package pveapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// Status is the normalized outcome of a hypervisor call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInvalid Status = "invalid"
)

// Response is the normalized form of one hypervisor reply. Status is
// "success" iff the decoded body carries a non-empty data field, except that a
// 500 status line always yields "error" with Errors["server"] set to the
// reason phrase.
type Response struct {
	Status     Status
	StatusCode int
	Reason     string
	Data       json.RawMessage
	Errors     map[string]string

	raw       []byte
	transport *TransportError
}

type envelope struct {
	Data    json.RawMessage            `json:"data"`
	Errors  map[string]json.RawMessage `json:"errors"`
	Message string                     `json:"message"`
}

// Normalize builds a Response from an HTTP status code, the status line text
// (e.g. "500 Internal Server Error") and the body.
func Normalize(code int, statusLine string, body []byte) *Response {
	resp := &Response{
		StatusCode: code,
		Reason:     reasonPhrase(code, statusLine),
		Errors:     map[string]string{},
		raw:        body,
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		resp.Status = StatusInvalid
		resp.Errors["decode"] = err.Error()
	} else {
		for k, v := range env.Errors {
			resp.Errors[k] = flattenJSON(v)
		}
		if env.Message != "" {
			resp.Errors["message"] = env.Message
		}
		if emptyData(env.Data) {
			resp.Status = StatusError
		} else {
			resp.Status = StatusSuccess
			resp.Data = env.Data
		}
	}

	if code == http.StatusInternalServerError {
		resp.Status = StatusError
		resp.Data = nil
		resp.Errors["server"] = resp.Reason
	}
	return resp
}

func transportFailure(te *TransportError) *Response {
	body, _ := json.Marshal(map[string]any{
		"error":   "Transport Error",
		"message": "An internal error occurred, or the server did not respond to the request.",
		"status":  http.StatusInternalServerError,
	})
	return &Response{
		Status:     StatusError,
		StatusCode: 0,
		Errors:     map[string]string{"internal": te.Err.Error()},
		raw:        body,
		transport:  te,
	}
}

func reasonPhrase(code int, statusLine string) string {
	reason := strings.TrimSpace(strings.TrimPrefix(statusLine, strconv.Itoa(code)))
	if reason == "" {
		reason = http.StatusText(code)
	}
	return reason
}

// emptyData follows the loose emptiness rule of the wrapped API's clients:
// absent, null, false, zero, "", "0" and [] are empty; objects never are.
func emptyData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == "" || t == "0"
	case []any:
		return len(t) == 0
	}
	return false
}

func flattenJSON(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// OK reports whether the call succeeded.
func (r *Response) OK() bool { return r != nil && r.Status == StatusSuccess }

// Raw returns the unmasked body as received (or the synthetic body for a
// transport failure). Callers must mask it before logging.
func (r *Response) Raw() string { return string(r.raw) }

// Transport returns the transport failure behind a synthetic response, if any.
func (r *Response) Transport() *TransportError { return r.transport }

// Err returns nil for successful responses, the TransportError for synthetic
// responses and an APIError otherwise.
func (r *Response) Err() error {
	if r == nil {
		return &APIError{Status: StatusInvalid}
	}
	if r.transport != nil {
		return r.transport
	}
	if r.Status == StatusSuccess {
		return nil
	}
	errs := make(map[string]string, len(r.Errors))
	for k, v := range r.Errors {
		errs[k] = v
	}
	return &APIError{Status: r.Status, StatusCode: r.StatusCode, Reason: r.Reason, Errors: errs}
}

// Decode unmarshals the data payload into v. Any failure, including an
// unsuccessful response, is reported as a DecodeError naming v's type.
func (r *Response) Decode(v any) error {
	target := reflect.TypeOf(v).String()
	if err := r.Err(); err != nil {
		return &DecodeError{Target: target, Err: err}
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return &DecodeError{Target: target, Err: fmt.Errorf("data payload: %w", err)}
	}
	return nil
}
