// Package scene holds the live shape state of a canvas: the shape registry,
// the floor/layer store, and the transform primitives that mutate shapes and
// propagate the result to peers.
package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/tabletop/internal/engine/geom"
	"github.com/dshills/tabletop/internal/engine/operation"
)

// Scene errors.
var (
	ErrShapeExists     = errors.New("shape already exists")
	ErrShapeNotFound   = errors.New("shape not found")
	ErrFloorNotFound   = errors.New("floor not found")
	ErrLayerNotFound   = errors.New("layer not found")
	ErrFloorExists     = errors.New("floor already exists")
	ErrInvalidHandle   = errors.New("invalid resize handle")
	ErrDegenerateSize  = errors.New("resize would produce a non-positive size")
	ErrUnsupportedType = errors.New("unsupported shape type")
)

// Floor is a level of the map. Its layers are ordered bottom to top.
type Floor struct {
	ID     int
	Name   string
	Layers []*Layer
}

// Layer is a named drawing layer on a floor.
type Layer struct {
	Name  string
	Floor int
}

// Scene is an in-memory canvas.
//
// A Scene is driven from a single goroutine. The lock keeps the maps and
// the shape fields consistent for readers such as Get and Shapes, but the
// *Shape values handed out by Lookup are live: read or mutate them only on
// the goroutine that edits the scene.
type Scene struct {
	mu sync.RWMutex

	shapes map[string]*Shape
	order  []string
	floors []*Floor

	emitter Emitter
	newID   func() string
}

// Option configures a Scene.
type Option func(*Scene)

// WithEmitter sets where outbound messages go.
func WithEmitter(e Emitter) Option {
	return func(s *Scene) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithIDGenerator overrides how ids are assigned to shapes created without one.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scene) {
		s.newID = fn
	}
}

// New creates an empty scene.
func New(opts ...Option) *Scene {
	s := &Scene{
		shapes:  make(map[string]*Shape),
		emitter: discardEmitter{},
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a fresh shape id.
func (s *Scene) NewID() string {
	return s.newID()
}

// Reset removes every shape and floor.
func (s *Scene) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shapes = make(map[string]*Shape)
	s.order = nil
	s.floors = nil
}

// AddFloor adds a floor with the given layers.
func (s *Scene) AddFloor(id int, name string, layers ...string) (*Floor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.floors {
		if f.ID == id || f.Name == name {
			return nil, fmt.Errorf("%w: %d %q", ErrFloorExists, id, name)
		}
	}
	f := &Floor{ID: id, Name: name}
	for _, l := range layers {
		f.Layers = append(f.Layers, &Layer{Name: l, Floor: id})
	}
	s.floors = append(s.floors, f)
	return f, nil
}

// Floors returns the floors in order.
func (s *Scene) Floors() []*Floor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Floor(nil), s.floors...)
}

// Floor returns the floor with the given id.
func (s *Scene) Floor(id int) (*Floor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.floorLocked(id)
}

func (s *Scene) floorLocked(id int) (*Floor, bool) {
	for _, f := range s.floors {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// FloorByName returns the floor with the given name.
func (s *Scene) FloorByName(name string) (*Floor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.floors {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Layer returns the named layer of a floor.
func (s *Scene) Layer(f *Floor, name string) (*Layer, bool) {
	if f == nil {
		return nil, false
	}
	for _, l := range f.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// Lookup returns the live shape with the given id. See Scene for the
// single-goroutine contract on the returned pointer.
func (s *Scene) Lookup(id string) (*Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shapes[id]
	return sh, ok
}

// Get returns a copy of the shape with the given id.
func (s *Scene) Get(id string) (Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shapes[id]
	if !ok {
		return Shape{}, false
	}
	return *sh, true
}

// Shapes returns copies of all shapes in creation order.
func (s *Scene) Shapes() []Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Shape, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.shapes[id])
	}
	return out
}

// Len returns the number of shapes.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shapes)
}

// Move translates every shape by delta.
func (s *Scene) Move(ctx context.Context, shapes []*Shape, delta geom.Vector, final bool) error {
	s.mu.Lock()
	positions := make([]ShapePosition, 0, len(shapes))
	for _, sh := range shapes {
		sh.Ref = sh.Ref.Add(delta)
		positions = append(positions, sh.position())
	}
	s.mu.Unlock()

	s.emit(ctx, TopicPositionUpdate, PositionUpdate{Shapes: positions}, !final)
	return nil
}

// Rotate rotates every shape by angle degrees around center. Each shape's own
// center orbits the pivot and its angle grows by the same amount.
func (s *Scene) Rotate(ctx context.Context, shapes []*Shape, angle float64, center geom.Point, final bool) error {
	s.mu.Lock()
	positions := make([]ShapePosition, 0, len(shapes))
	for _, sh := range shapes {
		old := sh.Center()
		moved := old.RotateAround(center, angle)
		sh.Ref = sh.Ref.Add(moved.Sub(old))
		sh.Angle += angle
		positions = append(positions, sh.position())
	}
	s.mu.Unlock()

	s.emit(ctx, TopicPositionUpdate, PositionUpdate{Shapes: positions}, !final)
	return nil
}

// Resize drags one handle of a shape to target.
//
// Rect handles are numbered clockwise from the top-left corner (0..3) in the
// unrotated frame; the opposite corner stays fixed. With retainAspectRatio the
// height follows the width at the shape's current ratio. Circles accept any
// handle and take the distance from their center to target as radius.
func (s *Scene) Resize(ctx context.Context, sh *Shape, target geom.Point, handle int, retainAspectRatio bool, final bool) error {
	s.mu.Lock()
	switch sh.Type {
	case TypeRect:
		if err := resizeRect(sh, target, handle, retainAspectRatio); err != nil {
			s.mu.Unlock()
			return err
		}
	case TypeCircle:
		r := sh.Ref.Distance(target)
		if r <= 0 {
			s.mu.Unlock()
			return ErrDegenerateSize
		}
		sh.Radius = r
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnsupportedType, sh.Type)
	}
	snapshot := *sh
	s.mu.Unlock()

	temporary := !final
	if snapshot.Type == TypeRect {
		// A rect resize can move its reference point.
		s.emit(ctx, TopicPositionUpdate, PositionUpdate{Shapes: []ShapePosition{snapshot.position()}}, temporary)
		s.emit(ctx, TopicRectSize, RectSizeUpdate{UUID: snapshot.ID, W: snapshot.Width, H: snapshot.Height}, temporary)
		return nil
	}
	s.emit(ctx, TopicCircleSize, CircleSizeUpdate{UUID: snapshot.ID, R: snapshot.Radius}, temporary)
	return nil
}

func resizeRect(sh *Shape, target geom.Point, handle int, retainAspectRatio bool) error {
	if handle < 0 || handle > 3 {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	opp := sh.corner((handle + 2) % 4)

	sx, sy := -1.0, -1.0
	if handle == 1 || handle == 2 {
		sx = 1
	}
	if handle == 2 || handle == 3 {
		sy = 1
	}

	w := sx * (target.X - opp.X)
	h := sy * (target.Y - opp.Y)
	if retainAspectRatio && sh.Width != 0 && sh.Height != 0 {
		h = w * sh.Height / sh.Width
	}
	if w <= 0 || h <= 0 {
		return ErrDegenerateSize
	}

	ref := opp
	if sx < 0 {
		ref.X -= w
	}
	if sy < 0 {
		ref.Y -= h
	}
	sh.Ref = ref
	sh.Width = w
	sh.Height = h
	return nil
}

// MoveToFloor moves shapes to floor, keeping their layer names. The target
// floor must have a layer with each shape's layer name.
func (s *Scene) MoveToFloor(ctx context.Context, shapes []*Shape, floor *Floor, final bool) error {
	if floor == nil {
		return ErrFloorNotFound
	}
	for _, sh := range shapes {
		if _, ok := s.Layer(floor, sh.Layer); !ok {
			return fmt.Errorf("%w: %q on floor %q", ErrLayerNotFound, sh.Layer, floor.Name)
		}
	}

	s.mu.Lock()
	ids := make([]string, 0, len(shapes))
	for _, sh := range shapes {
		sh.Floor = floor.ID
		ids = append(ids, sh.ID)
	}
	s.mu.Unlock()

	s.emit(ctx, TopicFloorChange, FloorChange{UUIDs: ids, Floor: floor.Name}, !final)
	return nil
}

// MoveToLayer moves shapes onto layer (and the layer's floor).
func (s *Scene) MoveToLayer(ctx context.Context, shapes []*Shape, layer *Layer, final bool) error {
	if layer == nil {
		return ErrLayerNotFound
	}
	floor, ok := s.Floor(layer.Floor)
	if !ok {
		return fmt.Errorf("%w: %d", ErrFloorNotFound, layer.Floor)
	}

	s.mu.Lock()
	ids := make([]string, 0, len(shapes))
	for _, sh := range shapes {
		sh.Layer = layer.Name
		sh.Floor = layer.Floor
		ids = append(ids, sh.ID)
	}
	s.mu.Unlock()

	s.emit(ctx, TopicLayerChange, LayerChange{UUIDs: ids, Layer: layer.Name, Floor: floor.Name}, !final)
	return nil
}

// Create adds a shape built from snap.
func (s *Scene) Create(ctx context.Context, snap operation.Snapshot, mode SyncMode) (*Shape, error) {
	sh, err := s.fromSnapshot(snap)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.shapes[sh.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrShapeExists, sh.ID)
	}
	s.shapes[sh.ID] = sh
	s.order = append(s.order, sh.ID)
	s.mu.Unlock()

	if mode != SyncNone {
		s.emit(ctx, TopicShapeAdd, ShapeAdd{Shape: snap}, mode == SyncTemp)
	}
	return sh, nil
}

func (s *Scene) fromSnapshot(snap operation.Snapshot) (*Shape, error) {
	if snap.IsZero() {
		return nil, operation.ErrInvalidSnapshot
	}
	sh := &Shape{
		ID:     snap.ID(),
		Type:   snap.Type(),
		Ref:    geom.Pt(snap.Get("x").Float(), snap.Get("y").Float()),
		Width:  snap.Get("width").Float(),
		Height: snap.Get("height").Float(),
		Radius: snap.Get("radius").Float(),
		Angle:  snap.Get("angle").Float(),
		Floor:  int(snap.Get("floor").Int()),
		Layer:  snap.Get("layer").String(),
		attrs:  snap,
	}
	if sh.Type != TypeRect && sh.Type != TypeCircle {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, sh.Type)
	}

	floor, ok := s.Floor(sh.Floor)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFloorNotFound, sh.Floor)
	}
	if _, ok := s.Layer(floor, sh.Layer); !ok {
		return nil, fmt.Errorf("%w: %q on floor %q", ErrLayerNotFound, sh.Layer, floor.Name)
	}
	return sh, nil
}

// Delete removes shapes from the scene.
func (s *Scene) Delete(ctx context.Context, shapes []*Shape, mode SyncMode) error {
	s.mu.Lock()
	ids := make([]string, 0, len(shapes))
	for _, sh := range shapes {
		if _, ok := s.shapes[sh.ID]; !ok {
			continue
		}
		delete(s.shapes, sh.ID)
		ids = append(ids, sh.ID)
	}
	s.order = removeIDs(s.order, ids)
	s.mu.Unlock()

	if mode != SyncNone && len(ids) > 0 {
		s.emit(ctx, TopicShapesRemove, ShapesRemove{UUIDs: ids}, mode == SyncTemp)
	}
	return nil
}

func removeIDs(order []string, ids []string) []string {
	if len(ids) == 0 {
		return order
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := order[:0]
	for _, id := range order {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	return kept
}

type snapshotField struct {
	path  string
	value any
}

// Snapshot serializes a shape. Attributes the scene does not model are
// carried over from the snapshot the shape was created from.
func (s *Scene) Snapshot(sh *Shape) (operation.Snapshot, error) {
	s.mu.RLock()
	cur := *sh
	s.mu.RUnlock()

	base := cur.attrs
	if base.IsZero() {
		var err error
		base, err = operation.NewSnapshot([]byte(fmt.Sprintf(`{"uuid":%q}`, cur.ID)))
		if err != nil {
			return operation.Snapshot{}, err
		}
	}

	fields := []snapshotField{
		{"uuid", cur.ID},
		{"type_", cur.Type},
		{"x", cur.Ref.X},
		{"y", cur.Ref.Y},
		{"angle", cur.Angle},
		{"floor", cur.Floor},
		{"layer", cur.Layer},
	}
	if cur.Type == TypeRect {
		fields = append(fields, snapshotField{"width", cur.Width}, snapshotField{"height", cur.Height})
	} else {
		fields = append(fields, snapshotField{"radius", cur.Radius})
	}

	snap := base
	for _, f := range fields {
		var err error
		snap, err = snap.With(f.path, f.value)
		if err != nil {
			return operation.Snapshot{}, err
		}
	}
	return snap, nil
}

func (s *Scene) emit(ctx context.Context, topic string, payload any, temporary bool) {
	s.emitter.Emit(ctx, Message{Topic: topic, Payload: payload, Temporary: temporary})
}
