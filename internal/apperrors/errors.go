package apperrors

import (
	"errors"
	"fmt"
)

// ErrNotFound represents an error when a requested resource is not found.
type ErrNotFound struct {
	Resource string
	ID       interface{}
}

// Error implements the error interface.
func (e *ErrNotFound) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s with ID %v not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is allows for error checking with errors.Is().
func (e *ErrNotFound) Is(target error) bool {
	_, ok := target.(*ErrNotFound)
	return ok
}

// NewNotFoundError creates a new ErrNotFound.
func NewNotFoundError(resource string, id interface{}) *ErrNotFound {
	return &ErrNotFound{
		Resource: resource,
		ID:       id,
	}
}

// NewRegionNotFoundError creates a specific error for an unknown cache region.
func NewRegionNotFoundError(region string) *ErrNotFound {
	return &ErrNotFound{
		Resource: "cache region",
		ID:       region,
	}
}

// ErrInvalidConfiguration is returned when a cap percentage is out of range or the
// soft/hard ordering would be inverted. The previous configuration stays in effect.
type ErrInvalidConfiguration struct {
	Field  string
	Value  int
	Reason string
}

// Error implements the error interface.
func (e *ErrInvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid cache configuration: %s=%d: %s", e.Field, e.Value, e.Reason)
}

// Is allows for error checking with errors.Is().
func (e *ErrInvalidConfiguration) Is(target error) bool {
	_, ok := target.(*ErrInvalidConfiguration)
	return ok
}

// NewInvalidConfigurationError creates a new ErrInvalidConfiguration.
func NewInvalidConfigurationError(field string, value int, reason string) *ErrInvalidConfiguration {
	return &ErrInvalidConfiguration{Field: field, Value: value, Reason: reason}
}

// ErrCacheUnavailable signals that no cache is configured in this deployment.
// It is distinct from an empty cache.
var ErrCacheUnavailable = errors.New("cache is not configured in this deployment")
