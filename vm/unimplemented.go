// ABOUTME: Loud placeholders for integration points no runtime has wired yet

package vm

import "github.com/cockroachdb/errors"

// Unimplemented panics naming op. Placeholders must never fall back to a
// default value.
func Unimplemented(op string) {
	panic(errors.AssertionFailedf("vm: %s is not implemented for this runtime", op))
}
