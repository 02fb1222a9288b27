// Package envelope implements the shared response envelope and typed error
// taxonomy every broker reply is wrapped in.
package envelope

import (
	"encoding/json"
	"fmt"
	"io"
)

// Category discriminates the ToolError taxonomy, mirroring hooteproto's
// `#[serde(tag = "category")]` enum.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryService    Category = "service"
	CategoryInternal   Category = "internal"
	CategoryCancelled  Category = "cancelled"
	CategoryTimeout    Category = "timeout"
	CategoryPermission Category = "permission"
)

// ToolError is the single error type carried by a ResponseEnvelope. Exactly
// one of the detail pointers is non-nil, selected by Category.
type ToolError struct {
	Category   Category          `json:"category"`
	Validation *ValidationDetail `json:"-"`
	NotFound   *NotFoundDetail   `json:"-"`
	Service    *ServiceDetail    `json:"-"`
	Internal   *InternalDetail   `json:"-"`
	Cancelled  *CancelledDetail  `json:"-"`
	Timeout    *TimeoutDetail    `json:"-"`
	Permission *PermissionDetail `json:"-"`
}

type ValidationDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type NotFoundDetail struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

type ServiceDetail struct {
	Service   string `json:"service"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type InternalDetail struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type CancelledDetail struct {
	Reason string `json:"reason"`
}

type TimeoutDetail struct {
	Operation string `json:"operation"`
	TimeoutMs uint64 `json:"timeout_ms"`
}

type PermissionDetail struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

func NewValidation(code, message string) *ToolError {
	return &ToolError{Category: CategoryValidation, Validation: &ValidationDetail{Code: code, Message: message}}
}

func NewValidationField(code, message, field string) *ToolError {
	return &ToolError{Category: CategoryValidation, Validation: &ValidationDetail{Code: code, Message: message, Field: field}}
}

func NewNotFound(resourceType, resourceID string) *ToolError {
	return &ToolError{Category: CategoryNotFound, NotFound: &NotFoundDetail{ResourceType: resourceType, ResourceID: resourceID}}
}

func NewService(service, code, message string) *ToolError {
	return &ToolError{Category: CategoryService, Service: &ServiceDetail{Service: service, Code: code, Message: message}}
}

func NewServiceRetryable(service, code, message string) *ToolError {
	return &ToolError{Category: CategoryService, Service: &ServiceDetail{Service: service, Code: code, Message: message, Retryable: true}}
}

func NewInternal(message string) *ToolError {
	return &ToolError{Category: CategoryInternal, Internal: &InternalDetail{Message: message}}
}

func NewInternalWithDetails(message, details string) *ToolError {
	return &ToolError{Category: CategoryInternal, Internal: &InternalDetail{Message: message, Details: details}}
}

func NewCancelled(reason string) *ToolError {
	return &ToolError{Category: CategoryCancelled, Cancelled: &CancelledDetail{Reason: reason}}
}

func NewTimeout(operation string, timeoutMs uint64) *ToolError {
	return &ToolError{Category: CategoryTimeout, Timeout: &TimeoutDetail{Operation: operation, TimeoutMs: timeoutMs}}
}

func NewPermission(action, resource string) *ToolError {
	return &ToolError{Category: CategoryPermission, Permission: &PermissionDetail{Action: action, Resource: resource}}
}

// Message returns a human-readable description, mirroring ToolError::message().
func (e *ToolError) Message() string {
	switch e.Category {
	case CategoryValidation:
		return e.Validation.Message
	case CategoryNotFound:
		return fmt.Sprintf("%s not found: %s", e.NotFound.ResourceType, e.NotFound.ResourceID)
	case CategoryService:
		return fmt.Sprintf("%s: %s", e.Service.Service, e.Service.Message)
	case CategoryInternal:
		return e.Internal.Message
	case CategoryCancelled:
		return fmt.Sprintf("cancelled: %s", e.Cancelled.Reason)
	case CategoryTimeout:
		return fmt.Sprintf("timeout after %dms: %s", e.Timeout.TimeoutMs, e.Timeout.Operation)
	case CategoryPermission:
		return fmt.Sprintf("permission denied: %s on %s", e.Permission.Action, e.Permission.Resource)
	default:
		return string(e.Category)
	}
}

// Code returns a short code for programmatic handling.
func (e *ToolError) Code() string {
	switch e.Category {
	case CategoryValidation:
		return e.Validation.Code
	case CategoryNotFound:
		return "not_found"
	case CategoryService:
		return e.Service.Code
	case CategoryInternal:
		return "internal_error"
	case CategoryCancelled:
		return "cancelled"
	case CategoryTimeout:
		return "timeout"
	case CategoryPermission:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Error implements the error interface so ToolError is usable directly.
func (e *ToolError) Error() string {
	return e.Message()
}

// FromErr converts an arbitrary Go error into an Internal ToolError,
// mirroring hooteproto's `From<anyhow::Error>`.
func FromErr(err error) *ToolError {
	if te, ok := err.(*ToolError); ok {
		return te
	}
	return NewInternal(err.Error())
}

// FromIOErr converts an io error, mirroring `From<std::io::Error>`.
func FromIOErr(err error) *ToolError {
	if err == io.EOF {
		return NewInternal("IO error: unexpected EOF")
	}
	return NewInternal(fmt.Sprintf("IO error: %s", err.Error()))
}

// MarshalJSON flattens the selected detail struct alongside "category",
// matching serde's `#[serde(tag = "category")]` representation. The detail
// structs never share JSON field names with each other's sibling variants
// in a way that would collide once flattened (ValidationDetail.code and
// ServiceDetail.code occupy the same key only when only one is present).
func (e *ToolError) MarshalJSON() ([]byte, error) {
	var detail interface{}
	switch e.Category {
	case CategoryValidation:
		detail = e.Validation
	case CategoryNotFound:
		detail = e.NotFound
	case CategoryService:
		detail = e.Service
	case CategoryInternal:
		detail = e.Internal
	case CategoryCancelled:
		detail = e.Cancelled
	case CategoryTimeout:
		detail = e.Timeout
	case CategoryPermission:
		detail = e.Permission
	}

	detailBytes, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(detailBytes, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	categoryBytes, err := json.Marshal(e.Category)
	if err != nil {
		return nil, err
	}
	fields["category"] = categoryBytes
	return json.Marshal(fields)
}

func (e *ToolError) UnmarshalJSON(data []byte) error {
	var probe struct {
		Category Category `json:"category"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	e.Category = probe.Category

	switch e.Category {
	case CategoryValidation:
		e.Validation = &ValidationDetail{}
		return json.Unmarshal(data, e.Validation)
	case CategoryNotFound:
		e.NotFound = &NotFoundDetail{}
		return json.Unmarshal(data, e.NotFound)
	case CategoryService:
		e.Service = &ServiceDetail{}
		return json.Unmarshal(data, e.Service)
	case CategoryInternal:
		e.Internal = &InternalDetail{}
		return json.Unmarshal(data, e.Internal)
	case CategoryCancelled:
		e.Cancelled = &CancelledDetail{}
		return json.Unmarshal(data, e.Cancelled)
	case CategoryTimeout:
		e.Timeout = &TimeoutDetail{}
		return json.Unmarshal(data, e.Timeout)
	case CategoryPermission:
		e.Permission = &PermissionDetail{}
		return json.Unmarshal(data, e.Permission)
	default:
		return fmt.Errorf("unknown tool error category %q", e.Category)
	}
}
