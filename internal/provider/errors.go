package provider

import (
	"errors"
	"fmt"

	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

// Error keys understood by the host platform.
const (
	KeyAPIInternal        = "api.internal"
	KeyAPIResponse        = "api.response"
	KeyCreateClient       = "create_client.failed"
	KeyHostnameFormat     = "proxmox_hostname.format"
	KeyModuleRowMissing   = "module_row.missing"
	KeyNodesEmpty         = "meta[nodes].empty"
	KeyTypeValid          = "meta[type].valid"
	KeyServiceUnsupported = "service.unsupported"
	KeyStateTransition    = "state.transition"
	KeyTemplateValid      = "proxmox_template.valid"
	KeyRootPasswordLength = "proxmox_root_password.length"
)

const (
	msgInternal   = "An internal error occurred, or the server did not respond to the request."
	msgResponse   = "An unknown error occurred, please try again later."
	msgRowMissing = "An internal error occurred. The module row is unavailable."
)

// Error is the structured failure handed back to the host platform. Key
// classifies it, Message is safe to display and Err keeps the cause.
type Error struct {
	Key     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Key, e.Message, e.Err)
	}
	return e.Key + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted message.
func Errorf(key, format string, args ...any) *Error {
	return &Error{Key: key, Message: fmt.Sprintf(format, args...)}
}

// KeyOf returns the key of the first *Error in err's chain, or "".
func KeyOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Key
	}
	return ""
}

// APIFailure classifies a failed hypervisor call. Transport failures, invalid
// bodies and responses that carry error details are internal errors; an
// error response without any detail is reported as an unexpected response.
func APIFailure(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if pveapi.IsTransport(err) {
		return &Error{Key: KeyAPIInternal, Message: msgInternal, Err: err}
	}
	var apiErr *pveapi.APIError
	if errors.As(err, &apiErr) && apiErr.Status == pveapi.StatusError && len(apiErr.Errors) == 0 {
		return &Error{Key: KeyAPIResponse, Message: msgResponse, Err: err}
	}
	return &Error{Key: KeyAPIInternal, Message: msgInternal, Err: err}
}

// RowMissing reports a service without a usable hypervisor server.
func RowMissing() *Error {
	return &Error{Key: KeyModuleRowMissing, Message: msgRowMissing}
}

// WorkflowError reports the mandatory step that aborted a workflow. Side
// effects of earlier steps are not rolled back.
type WorkflowError struct {
	Workflow string
	Step     string
	Err      error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: step %s: %v", e.Workflow, e.Step, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }
