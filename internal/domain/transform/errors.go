package transform

import "fmt"

// UnknownTransformError is returned when a chain names a transform that is
// not registered.
type UnknownTransformError struct {
	Name string
}

func (e *UnknownTransformError) Error() string {
	return fmt.Sprintf("unknown transform %q", e.Name)
}

// UnparseableDateError is returned by the date transforms when no supported
// pattern matches the value.
type UnparseableDateError struct {
	Value string
}

func (e *UnparseableDateError) Error() string {
	return fmt.Sprintf("unparseable date: %q", e.Value)
}

// DuplicateTransformError is returned by a strict registry on re-registration.
type DuplicateTransformError struct {
	Name string
}

func (e *DuplicateTransformError) Error() string {
	return fmt.Sprintf("transform %q already registered", e.Name)
}
