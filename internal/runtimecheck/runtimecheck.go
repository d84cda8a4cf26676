// Package runtimecheck rejects Go runtimes older than the supported minimum.
package runtimecheck

import (
	"fmt"
	"go/version"
	"runtime"
	"strings"

	"taskpipe/internal/faults"
)

// Minimum is the oldest supported Go release. It tracks the go directive in go.mod.
const Minimum = "go1.25"

// Current checks the running binary.
func Current() error {
	return Check(runtime.Version(), Minimum)
}

// Check accepts release tags such as "go1.25.1" or "go1.23rc1". Development
// builds ("devel ...") are accepted.
func Check(v, minimum string) error {
	if strings.HasPrefix(v, "devel") {
		return nil
	}
	if !version.IsValid(v) {
		return faults.New(faults.ErrUnsupportedRuntime, "runtime check", fmt.Errorf("unrecognised version %q", v))
	}
	if version.Compare(v, minimum) < 0 {
		return faults.New(faults.ErrUnsupportedRuntime, "runtime check",
			fmt.Errorf("%s is older than %s", v, minimum))
	}
	return nil
}
