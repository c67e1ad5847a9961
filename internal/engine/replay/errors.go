package replay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/tabletop/internal/engine/operation"
)

// Replay errors.
var (
	// ErrUnknownOperation is returned for an operation the dispatcher does not handle.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrFloorNotFound is returned when a floor movement targets a missing floor.
	ErrFloorNotFound = errors.New("floor not found")

	// ErrLayerNotFound is returned when a layer movement targets a missing layer.
	ErrLayerNotFound = errors.New("layer not found")

	// ErrDanglingReference is matched by every DanglingReferenceError.
	ErrDanglingReference = errors.New("dangling shape reference")

	// ErrMixedFloors is returned when a layer movement spans more than one floor.
	ErrMixedFloors = errors.New("layer movement spans multiple floors")

	// ErrUnknownPolicy is returned by ParsePolicy.
	ErrUnknownPolicy = errors.New("unknown dangling reference policy")
)

// DanglingReferenceError reports a shape that an operation references but
// that no longer resolves. For shape creation it reports a shape that
// unexpectedly still exists.
type DanglingReferenceError struct {
	Kind operation.Kind
	IDs  []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s: %s references %s", ErrDanglingReference, e.Kind, strings.Join(e.IDs, ", "))
}

// Is reports whether target is ErrDanglingReference.
func (e *DanglingReferenceError) Is(target error) bool {
	return target == ErrDanglingReference
}

// Policy controls how dangling references are handled during replay.
type Policy int

const (
	// PolicySkip logs and skips missing shapes.
	PolicySkip Policy = iota
	// PolicyAbort fails the replay without mutating anything.
	PolicyAbort
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name. The empty string selects PolicySkip.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return PolicySkip, nil
	case "abort":
		return PolicyAbort, nil
	default:
		return PolicySkip, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}
