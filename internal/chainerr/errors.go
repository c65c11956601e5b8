// Package chainerr defines the error kinds returned by cloudchain operations.
package chainerr

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	ErrConfiguration      = errors.New("cloudchain configuration error")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialService  = errors.New("credential service error")
)

// Configuration error codes. Each missing setting has its own code so callers
// can tell them apart without parsing messages.
const (
	CodeStoreRegion    = "CC1"
	CodeStoreEndpoint  = "CC2"
	CodeKeyRegion      = "CC3"
	CodeTableName      = "CC4"
	CodeKeyAlias       = "CC5"
	CodeFileNotFound   = "CC6"
	CodeFileInvalid    = "CC7"
	CodeInvalidSetting = "CC8"
)

// ConfigError reports a missing or unusable setting, or a config file that
// could not be found or parsed.
type ConfigError struct {
	Code   string
	Field  string
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "Error " + e.Code + ": "
	switch {
	case e.Path != "" && e.Field != "":
		msg += fmt.Sprintf("config file %s: %s %s", e.Path, e.Field, e.Reason)
	case e.Path != "":
		msg += fmt.Sprintf("config file %s %s", e.Path, e.Reason)
	default:
		msg += fmt.Sprintf("%s %s", e.Field, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigError) Unwrap() error { return e.Err }

// NewMissingFieldError reports a required setting that is empty.
func NewMissingFieldError(code, field string) error {
	return &ConfigError{Code: code, Field: field, Reason: "must be set"}
}

// NotFoundError is returned when no record exists for a (service, username)
// pair. It does not say which half of the key was wrong.
type NotFoundError struct {
	Service  string
	Username string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("query failed: no credential for service %q and username %q", e.Service, e.Username)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrCredentialNotFound }

// ServiceError wraps a failure reported by the key-management service or the
// data store. The underlying error is kept as-is.
type ServiceError struct {
	Op  string
	Err error
}

func NewServiceError(op string, err error) error {
	return &ServiceError{Op: op, Err: err}
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ServiceError) Is(target error) bool { return target == ErrCredentialService }

func (e *ServiceError) Unwrap() error { return e.Err }

// Code returns the API error code reported by AWS (for example
// "NotFoundException" or "AccessDeniedException"), or "" when the failure did
// not come from an API response.
func (e *ServiceError) Code() string {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
