package main

import (
	"github.com/pkg/errors"

	"gopherboot/kernel"
)

// catchKernelError converts a fatal *kernel.Error panic raised by kernel
// code into an error returned through err. Other panics are re-raised.
func catchKernelError(err *error, action string) {
	r := recover()
	if r == nil {
		return
	}

	kerr, ok := r.(*kernel.Error)
	if !ok {
		panic(r)
	}
	*err = errors.Wrapf(kerr, "%s: [%s] fatal error", action, kerr.Module)
}
