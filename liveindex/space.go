// ABOUTME: Space classifiers recorded for every tracked object
// ABOUTME: Names the heap region classes and parses them from snapshot text

package liveindex

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Space identifies the heap region class an object was allocated in.
// It is set once at insertion and never changes.
type Space uint8

const (
	SpaceDefault Space = iota
	SpaceImmortal
	SpaceLargeObject
	SpaceCode
	SpaceReadOnly
	SpaceLargeCode
)

// ErrUnknownSpace is returned by ParseSpace for unrecognised names.
var ErrUnknownSpace = errors.New("unknown space")

var spaceNames = map[Space]string{
	SpaceDefault:     "default",
	SpaceImmortal:    "immortal",
	SpaceLargeObject: "los",
	SpaceCode:        "code",
	SpaceReadOnly:    "readonly",
	SpaceLargeCode:   "large_code",
}

func (s Space) String() string {
	if name, ok := spaceNames[s]; ok {
		return name
	}
	return "space(" + strconv.Itoa(int(s)) + ")"
}

// ParseSpace maps a space name back to its classifier.
func ParseSpace(name string) (Space, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return SpaceDefault, nil
	}
	for s, n := range spaceNames {
		if n == name {
			return s, nil
		}
	}
	// Snapshots written by the runtime may carry the raw classifier number.
	if n, err := strconv.Atoi(name); err == nil {
		if _, ok := spaceNames[Space(n)]; ok && n >= 0 {
			return Space(n), nil
		}
	}
	return SpaceDefault, errors.Wrapf(ErrUnknownSpace, "%q", name)
}
