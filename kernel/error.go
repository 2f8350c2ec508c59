package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. The Go allocator is
// backed by the physical memory allocator, so code running underneath it
// cannot use errors.New or fmt.Errorf.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is the same kernel error. Kernel errors are
// compared by identity; it exists so errors.Is works on host-side wrappers.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other == e
}
