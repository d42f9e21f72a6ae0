package compute

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotInitialized reports a kernel launch or lookup attempted before
// Initialize succeeded.
var ErrNotInitialized = errors.New("compute: kernels not initialized")

// ErrNoDevice reports that adapter enumeration found nothing usable.
var ErrNoDevice = errors.New("compute: no usable adapter found")

// BuildError reports that the kernel source was rejected by the shader
// compiler. Logs maps each device label to the compiler's diagnostic text and
// is never empty. The registry keeps no partial state after a build failure.
type BuildError struct {
	Logs map[string]string
}

func (e *BuildError) Error() string {
	labels := make([]string, 0, len(e.Logs))
	for label := range e.Logs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var b strings.Builder
	b.WriteString("compute: kernel build failed")
	for _, label := range labels {
		fmt.Fprintf(&b, "\n[%s]\n%s", label, e.Logs[label])
	}
	return b.String()
}

// KernelNotFoundError reports a lookup of a kernel name that was never
// registered. This is an internal consistency error, not an expected runtime
// condition.
type KernelNotFoundError struct {
	Name string
}

func (e *KernelNotFoundError) Error() string {
	return fmt.Sprintf("compute: kernel %q not found", e.Name)
}

// TransferError reports a host/device copy rejected by the runtime.
type TransferError struct {
	Dir   string // "host-to-device" or "device-to-host"
	Cause error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("compute: %s transfer failed: %v", e.Dir, e.Cause)
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}
