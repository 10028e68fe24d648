// package assert reports programming misuse: double-settled phases,
// use after teardown, unbalanced pins. such conditions are defects,
// not runtime errors, so debug builds (-tags debugassert) abort on them
// while release builds log and let the caller return an error.
package assert

import (
	"fmt"
	"log/slog"
)

// Fail reports a misuse. it panics when built with the debugassert tag.
func Fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if fatal {
		panic("asynchttp: " + msg)
	}
	slog.Error("asynchttp: misuse detected", "detail", msg)
}

// That calls [Fail] when cond is false.
func That(cond bool, format string, args ...interface{}) {
	if !cond {
		Fail(format, args...)
	}
}
