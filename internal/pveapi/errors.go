package pveapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrEmptyBody is reported when the hypervisor closed the connection without a payload.
var ErrEmptyBody = errors.New("empty response body")

// TransportError reports a failure below the API layer: connection errors,
// timeouts and empty bodies. It is never retried.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError reports a response the normalizer classified as error or invalid.
type APIError struct {
	Status     Status
	StatusCode int
	Reason     string
	Errors     map[string]string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "proxmox api %s (http %d", e.Status, e.StatusCode)
	if e.Reason != "" {
		fmt.Fprintf(&b, " %s", e.Reason)
	}
	b.WriteString(")")

	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "; %s: %s", k, e.Errors[k])
	}
	return b.String()
}

// ServerError reports whether the hypervisor answered with a 500 status line.
func (e *APIError) ServerError() bool {
	_, ok := e.Errors["server"]
	return ok
}

// DecodeError reports a payload that did not match the endpoint schema.
type DecodeError struct {
	Target string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsTransport reports whether err contains a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
