package validate

import "fmt"

// Error reports a user-correctable problem with a single input field.
// It is returned before any store mutation; an operation that fails
// validation performs no partial writes.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Failed(field, message string) *Error {
	return &Error{Field: field, Message: message}
}
