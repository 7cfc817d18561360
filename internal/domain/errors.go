package domain

import (
	"errors"
	"fmt"
)

// OGC service exception codes carried in error responses.
const (
	CodeMissingParameter      = "MissingParameterValue"
	CodeOperationNotSupported = "OperationNotSupported"
	CodeLayerNotDefined       = "LayerNotDefined"
	CodeInvalidParameter      = "InvalidParameterValue"
	CodeInvalidFormat         = "InvalidFormat"
	CodeServiceConfiguration  = "ServiceConfigurationError"
)

// ErrAuthRequired rejects anonymous requests when authentication is
// mandatory (REQUIREAUTH=1 or a globally protected path).
var ErrAuthRequired = errors.New("authentication required")

// ConfigError reports missing or structurally invalid tenant
// configuration or permission data.
type ConfigError struct {
	Tenant string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error (tenant %s): %s: %v", e.Tenant, e.Reason, e.Err)
	}
	return fmt.Sprintf("config error (tenant %s): %s", e.Tenant, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// RequestError reports a structurally invalid request.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Malformed(code, format string, args ...interface{}) *RequestError {
	return &RequestError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// PermissionError reports an explicit request for a known but not
// permitted layer or operation.
type PermissionError struct {
	Code    string
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Denied(code, format string, args ...interface{}) *PermissionError {
	return &PermissionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// TransactionError rejects a whole WFS-T transaction, identifying the
// first offending operation.
type TransactionError struct {
	Op        string
	Layer     string
	Attribute string
}

func (e *TransactionError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("transaction rejected: %s on layer %q writes attribute %q which is not permitted", e.Op, e.Layer, e.Attribute)
	}
	return fmt.Sprintf("transaction rejected: %s on layer %q is not permitted", e.Op, e.Layer)
}

// UpstreamError reports a failed or malformed backend response.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error: %v", e.Err)
	}
	return fmt.Sprintf("upstream error: status %d", e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
