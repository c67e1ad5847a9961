package operation

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Snapshot errors.
var (
	ErrInvalidSnapshot = errors.New("invalid shape snapshot")
	ErrSnapshotNoID    = errors.New("shape snapshot has no uuid")
)

// Snapshot is a complete serialized shape in the server shape format.
// It is immutable: accessors return copies of the underlying document.
type Snapshot struct {
	raw []byte
}

// NewSnapshot validates data and wraps a private copy of it.
func NewSnapshot(data []byte) (Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return Snapshot{}, ErrInvalidSnapshot
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return Snapshot{}, fmt.Errorf("%w: not an object", ErrInvalidSnapshot)
	}
	if res.Get("uuid").String() == "" {
		return Snapshot{}, ErrSnapshotNoID
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return Snapshot{raw: raw}, nil
}

// MustSnapshot is like NewSnapshot but panics on error. Intended for tests
// and static fixtures.
func MustSnapshot(data string) Snapshot {
	s, err := NewSnapshot([]byte(data))
	if err != nil {
		panic(err)
	}
	return s
}

// ID returns the shape uuid.
func (s Snapshot) ID() string {
	return s.Get("uuid").String()
}

// Type returns the shape type (e.g. "rect", "circle").
func (s Snapshot) Type() string {
	return s.Get("type_").String()
}

// Get returns the value at path using gjson path syntax.
func (s Snapshot) Get(path string) gjson.Result {
	return gjson.GetBytes(s.raw, path)
}

// Bytes returns a copy of the JSON document.
func (s Snapshot) Bytes() []byte {
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// String returns the JSON document.
func (s Snapshot) String() string {
	return string(s.raw)
}

// IsZero reports whether the snapshot holds no document.
func (s Snapshot) IsZero() bool {
	return len(s.raw) == 0
}

// With returns a new snapshot with the value at path replaced.
func (s Snapshot) With(path string, value any) (Snapshot, error) {
	raw, err := sjson.SetBytes(s.Bytes(), path, value)
	if err != nil {
		return Snapshot{}, fmt.Errorf("set %s: %w", path, err)
	}
	return NewSnapshot(raw)
}

// Equal reports whether both snapshots hold byte-identical documents.
func (s Snapshot) Equal(other Snapshot) bool {
	return string(s.raw) == string(other.raw)
}

// MarshalJSON emits the snapshot document verbatim.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.Bytes(), nil
}

// UnmarshalJSON validates and stores a snapshot document.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	snap, err := NewSnapshot(data)
	if err != nil {
		return err
	}
	*s = snap
	return nil
}
