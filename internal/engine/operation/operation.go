package operation

import (
	"errors"
	"fmt"
	"math"

	"github.com/dshills/tabletop/internal/engine/geom"
)

// Kind is the variant tag of an Operation.
type Kind string

// Operation kinds. The values match the tags used on the wire by editor clients.
const (
	KindMovement    Kind = "movement"
	KindRotation    Kind = "rotation"
	KindResize      Kind = "resize"
	KindFloorMove   Kind = "floormovement"
	KindLayerMove   Kind = "layermovement"
	KindShapeRemove Kind = "shaperemove"
	KindShapeAdd    Kind = "shapeadd"
)

// Kinds lists every operation kind.
var Kinds = []Kind{
	KindMovement,
	KindRotation,
	KindResize,
	KindFloorMove,
	KindLayerMove,
	KindShapeRemove,
	KindShapeAdd,
}

// batchTolerance bounds how far batch elements may disagree on their delta.
const batchTolerance = 1e-6

// Validation errors.
var (
	ErrEmptyBatch    = errors.New("operation has no shapes")
	ErrEmptyID       = errors.New("operation references an empty shape id")
	ErrDuplicateID   = errors.New("operation references a shape twice")
	ErrNonRigidBatch = errors.New("batch elements do not share one transform")
)

// Operation is an immutable record of one reversible edit to shape state.
type Operation interface {
	// Kind returns the variant tag.
	Kind() Kind

	// ShapeIDs returns the ids of every shape the operation touches.
	ShapeIDs() []string

	// Validate checks the structural invariants of the operation.
	Validate() error

	// Clone returns a deep copy.
	Clone() Operation

	// Description returns a human-readable description.
	Description() string

	sealed()
}

// ShapeMove is the movement of a single shape within a Movement batch.
type ShapeMove struct {
	ID   string
	From geom.Point
	To   geom.Point
}

// Movement moves a batch of shapes by one shared delta.
type Movement struct {
	Shapes []ShapeMove
}

// NewMovement creates a movement operation.
func NewMovement(moves ...ShapeMove) *Movement {
	return &Movement{Shapes: append([]ShapeMove(nil), moves...)}
}

// Kind implements Operation.
func (*Movement) Kind() Kind { return KindMovement }

// ShapeIDs implements Operation.
func (m *Movement) ShapeIDs() []string {
	ids := make([]string, len(m.Shapes))
	for i, s := range m.Shapes {
		ids[i] = s.ID
	}
	return ids
}

// Delta returns the forward displacement of the batch, taken from its first shape.
func (m *Movement) Delta() geom.Vector {
	if len(m.Shapes) == 0 {
		return geom.Vector{}
	}
	return geom.VectorFromPoints(m.Shapes[0].From, m.Shapes[0].To)
}

// Validate implements Operation.
func (m *Movement) Validate() error {
	if err := checkIDs(m.ShapeIDs()); err != nil {
		return err
	}
	delta := m.Delta()
	for _, s := range m.Shapes[1:] {
		if !geom.VectorFromPoints(s.From, s.To).Approx(delta, batchTolerance) {
			return fmt.Errorf("%w: shape %s", ErrNonRigidBatch, s.ID)
		}
	}
	return nil
}

// Clone implements Operation.
func (m *Movement) Clone() Operation {
	return NewMovement(m.Shapes...)
}

// Description implements Operation.
func (m *Movement) Description() string {
	return fmt.Sprintf("Move %s", plural(len(m.Shapes), "shape"))
}

func (*Movement) sealed() {}

// ShapeRotation is the rotation of a single shape within a Rotation batch.
// Angles are in degrees.
type ShapeRotation struct {
	ID   string
	From float64
	To   float64
}

// Rotation rotates a batch of shapes by one shared angle around Center.
type Rotation struct {
	Shapes []ShapeRotation
	Center geom.Point
}

// NewRotation creates a rotation operation.
func NewRotation(center geom.Point, rotations ...ShapeRotation) *Rotation {
	return &Rotation{
		Shapes: append([]ShapeRotation(nil), rotations...),
		Center: center,
	}
}

// Kind implements Operation.
func (*Rotation) Kind() Kind { return KindRotation }

// ShapeIDs implements Operation.
func (r *Rotation) ShapeIDs() []string {
	ids := make([]string, len(r.Shapes))
	for i, s := range r.Shapes {
		ids[i] = s.ID
	}
	return ids
}

// Angle returns the forward rotation of the batch, taken from its first shape.
func (r *Rotation) Angle() float64 {
	if len(r.Shapes) == 0 {
		return 0
	}
	return r.Shapes[0].To - r.Shapes[0].From
}

// Validate implements Operation.
func (r *Rotation) Validate() error {
	if err := checkIDs(r.ShapeIDs()); err != nil {
		return err
	}
	angle := r.Angle()
	for _, s := range r.Shapes[1:] {
		if math.Abs((s.To-s.From)-angle) > batchTolerance {
			return fmt.Errorf("%w: shape %s", ErrNonRigidBatch, s.ID)
		}
	}
	return nil
}

// Clone implements Operation.
func (r *Rotation) Clone() Operation {
	return NewRotation(r.Center, r.Shapes...)
}

// Description implements Operation.
func (r *Rotation) Description() string {
	return fmt.Sprintf("Rotate %s", plural(len(r.Shapes), "shape"))
}

func (*Rotation) sealed() {}

// Resize changes the size of a single shape by dragging one of its handles.
// Resizing is not a rigid transform, so it never spans more than one shape.
type Resize struct {
	ID                string
	FromPoint         geom.Point
	ToPoint           geom.Point
	HandleIndex       int
	RetainAspectRatio bool
}

// NewResize creates a resize operation.
func NewResize(id string, from, to geom.Point, handle int, retainAspectRatio bool) *Resize {
	return &Resize{
		ID:                id,
		FromPoint:         from,
		ToPoint:           to,
		HandleIndex:       handle,
		RetainAspectRatio: retainAspectRatio,
	}
}

// Kind implements Operation.
func (*Resize) Kind() Kind { return KindResize }

// ShapeIDs implements Operation.
func (r *Resize) ShapeIDs() []string { return []string{r.ID} }

// Validate implements Operation.
func (r *Resize) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.HandleIndex < 0 {
		return fmt.Errorf("invalid resize handle %d", r.HandleIndex)
	}
	return nil
}

// Clone implements Operation.
func (r *Resize) Clone() Operation {
	c := *r
	return &c
}

// Description implements Operation.
func (r *Resize) Description() string { return "Resize shape" }

func (*Resize) sealed() {}

// FloorMove moves a batch of shapes from one floor to another.
type FloorMove struct {
	From   int
	To     int
	Shapes []string
}

// NewFloorMove creates a floor move operation.
func NewFloorMove(from, to int, ids ...string) *FloorMove {
	return &FloorMove{From: from, To: to, Shapes: append([]string(nil), ids...)}
}

// Kind implements Operation.
func (*FloorMove) Kind() Kind { return KindFloorMove }

// ShapeIDs implements Operation.
func (f *FloorMove) ShapeIDs() []string { return append([]string(nil), f.Shapes...) }

// Validate implements Operation.
func (f *FloorMove) Validate() error { return checkIDs(f.Shapes) }

// Clone implements Operation.
func (f *FloorMove) Clone() Operation { return NewFloorMove(f.From, f.To, f.Shapes...) }

// Description implements Operation.
func (f *FloorMove) Description() string {
	return fmt.Sprintf("Move %s to another floor", plural(len(f.Shapes), "shape"))
}

func (*FloorMove) sealed() {}

// LayerMove moves a batch of shapes between two layers of the same floor.
type LayerMove struct {
	From   string
	To     string
	Shapes []string
}

// NewLayerMove creates a layer move operation.
func NewLayerMove(from, to string, ids ...string) *LayerMove {
	return &LayerMove{From: from, To: to, Shapes: append([]string(nil), ids...)}
}

// Kind implements Operation.
func (*LayerMove) Kind() Kind { return KindLayerMove }

// ShapeIDs implements Operation.
func (l *LayerMove) ShapeIDs() []string { return append([]string(nil), l.Shapes...) }

// Validate implements Operation.
func (l *LayerMove) Validate() error {
	if l.From == "" || l.To == "" {
		return errors.New("layer move requires both layer names")
	}
	return checkIDs(l.Shapes)
}

// Clone implements Operation.
func (l *LayerMove) Clone() Operation { return NewLayerMove(l.From, l.To, l.Shapes...) }

// Description implements Operation.
func (l *LayerMove) Description() string {
	return fmt.Sprintf("Move %s to layer %s", plural(len(l.Shapes), "shape"), l.To)
}

func (*LayerMove) sealed() {}

// ShapeRemove records the deletion of shapes.
type ShapeRemove struct {
	Shapes []Snapshot
}

// NewShapeRemove creates a shape removal operation.
func NewShapeRemove(snapshots ...Snapshot) *ShapeRemove {
	return &ShapeRemove{Shapes: append([]Snapshot(nil), snapshots...)}
}

// Kind implements Operation.
func (*ShapeRemove) Kind() Kind { return KindShapeRemove }

// ShapeIDs implements Operation.
func (r *ShapeRemove) ShapeIDs() []string { return snapshotIDs(r.Shapes) }

// Validate implements Operation.
func (r *ShapeRemove) Validate() error { return checkSnapshots(r.Shapes) }

// Clone implements Operation.
func (r *ShapeRemove) Clone() Operation { return NewShapeRemove(r.Shapes...) }

// Description implements Operation.
func (r *ShapeRemove) Description() string {
	return fmt.Sprintf("Remove %s", plural(len(r.Shapes), "shape"))
}

func (*ShapeRemove) sealed() {}

// ShapeAdd records the creation of shapes.
type ShapeAdd struct {
	Shapes []Snapshot
}

// NewShapeAdd creates a shape creation operation.
func NewShapeAdd(snapshots ...Snapshot) *ShapeAdd {
	return &ShapeAdd{Shapes: append([]Snapshot(nil), snapshots...)}
}

// Kind implements Operation.
func (*ShapeAdd) Kind() Kind { return KindShapeAdd }

// ShapeIDs implements Operation.
func (a *ShapeAdd) ShapeIDs() []string { return snapshotIDs(a.Shapes) }

// Validate implements Operation.
func (a *ShapeAdd) Validate() error { return checkSnapshots(a.Shapes) }

// Clone implements Operation.
func (a *ShapeAdd) Clone() Operation { return NewShapeAdd(a.Shapes...) }

// Description implements Operation.
func (a *ShapeAdd) Description() string {
	return fmt.Sprintf("Add %s", plural(len(a.Shapes), "shape"))
}

func (*ShapeAdd) sealed() {}

func checkIDs(ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return ErrEmptyID
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func checkSnapshots(snaps []Snapshot) error {
	for _, s := range snaps {
		if s.IsZero() {
			return ErrInvalidSnapshot
		}
	}
	return checkIDs(snapshotIDs(snaps))
}

func snapshotIDs(snaps []Snapshot) []string {
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID()
	}
	return ids
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
