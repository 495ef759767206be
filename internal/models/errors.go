package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrComplaintNotFound  = errors.New("complaint not found")
	ErrTechnicianNotFound = errors.New("technician not found")
	ErrTechnicianExists   = errors.New("technician already registered")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// ValidationError is returned for malformed input and maps to a 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func ValidateCoordinate(c Coordinate) error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return NewValidationError("latitude", "must be within [-90, 90], got %v", c.Lat)
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return NewValidationError("longitude", "must be within [-180, 180], got %v", c.Lon)
	}
	return nil
}
