// Package debug provides opt-in stderr tracing, enabled by SIGNET_DEBUG.
package debug

import (
	"fmt"
	"os"
)

// Enabled reports whether debug tracing is on.
func Enabled() bool {
	return os.Getenv("SIGNET_DEBUG") != ""
}

// Logf writes to stderr when SIGNET_DEBUG is set; otherwise it is a no-op.
func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
