// ABOUTME: Tagged machine words exchanged with the runtime
// ABOUTME: Splits engine tag bits from canonical object addresses and puts them back

// Package address models the pointer-sized words the runtime hands across
// the boundary. The low TagBits bits of a word carry engine metadata that has
// no bearing on object identity; everything past this package works on
// canonical (tag-clear) addresses.
package address

import "fmt"

// Address is a pointer-sized word, tagged or canonical.
type Address uintptr

// Tag holds the low-order tag bits stripped from an Address.
type Tag uint8

// TagBits is the number of low-order bits reserved for engine tags.
const TagBits = 2

// TagMask selects the tag bits of a word.
const TagMask Address = 1<<TagBits - 1

// Zero is the null address. It doubles as the end-of-walk sentinel.
const Zero Address = 0

// Strip splits a word into its canonical address and its tag.
func Strip(a Address) (Address, Tag) {
	return a &^ TagMask, Tag(a & TagMask)
}

// Reattach puts a tag back onto a canonical address.
// Tag bits outside TagMask are ignored.
func Reattach(canonical Address, tag Tag) Address {
	return canonical&^TagMask | Address(tag)&TagMask
}

// Canonical returns a with its tag bits cleared.
func Canonical(a Address) Address {
	return a &^ TagMask
}

// IsCanonical reports whether no tag bit is set.
func (a Address) IsCanonical() bool {
	return a&TagMask == 0
}

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool {
	return a == Zero
}

// Add offsets a by n bytes.
func (a Address) Add(n uintptr) Address {
	return a + Address(n)
}

// Diff returns a - b in bytes. It assumes a >= b.
func (a Address) Diff(b Address) uintptr {
	return uintptr(a - b)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}
