package replay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dshills/tabletop/internal/engine/geom"
	"github.com/dshills/tabletop/internal/engine/history"
	"github.com/dshills/tabletop/internal/engine/operation"
	"github.com/dshills/tabletop/internal/engine/scene"
	"github.com/dshills/tabletop/internal/logging"
	"github.com/dshills/tabletop/internal/metrics"
)

// ShapeRegistry resolves shape ids to live shapes.
type ShapeRegistry interface {
	Lookup(id string) (*scene.Shape, bool)
}

// FloorStore resolves floors and their layers.
type FloorStore interface {
	Floor(id int) (*scene.Floor, bool)
	Layer(f *scene.Floor, name string) (*scene.Layer, bool)
}

// Transformer applies shape mutations and propagates them to peers.
type Transformer interface {
	Move(ctx context.Context, shapes []*scene.Shape, delta geom.Vector, final bool) error
	Rotate(ctx context.Context, shapes []*scene.Shape, angle float64, center geom.Point, final bool) error
	Resize(ctx context.Context, sh *scene.Shape, target geom.Point, handle int, retainAspectRatio bool, final bool) error
	MoveToFloor(ctx context.Context, shapes []*scene.Shape, floor *scene.Floor, final bool) error
	MoveToLayer(ctx context.Context, shapes []*scene.Shape, layer *scene.Layer, final bool) error
	Create(ctx context.Context, snap operation.Snapshot, mode scene.SyncMode) (*scene.Shape, error)
	Delete(ctx context.Context, shapes []*scene.Shape, mode scene.SyncMode) error
}

// SelectionTool is notified when a replay invalidates its rotation helper.
type SelectionTool interface {
	ResetRotationHelper()
}

// Scene is everything the dispatcher needs from a single canvas.
type Scene interface {
	ShapeRegistry
	FloorStore
	Transformer
}

// Dispatcher replays operations against a scene.
type Dispatcher struct {
	shapes    ShapeRegistry
	floors    FloorStore
	transform Transformer
	selection SelectionTool

	policy  atomic.Int32
	logger  *logging.Logger
	metrics *metrics.Metrics
}

var (
	_ history.Replayer  = (*Dispatcher)(nil)
	_ history.Validator = (*Dispatcher)(nil)
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPolicy sets the dangling reference policy.
func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) {
		d.SetPolicy(p)
	}
}

// WithSelectionTool sets the tool whose rotation helper is reset after
// movements and rotations.
func WithSelectionTool(t SelectionTool) Option {
	return func(d *Dispatcher) {
		d.selection = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l.WithComponent("replay")
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher from its collaborators.
func New(shapes ShapeRegistry, floors FloorStore, transform Transformer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		shapes:    shapes,
		floors:    floors,
		transform: transform,
		logger:    logging.Null(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ForScene creates a dispatcher whose collaborators are all s.
func ForScene(s Scene, opts ...Option) *Dispatcher {
	return New(s, s, s, opts...)
}

// Policy returns the dangling reference policy.
func (d *Dispatcher) Policy() Policy {
	return Policy(d.policy.Load())
}

// SetPolicy changes the dangling reference policy. It may be called while
// replays run on other goroutines.
func (d *Dispatcher) SetPolicy(p Policy) {
	d.policy.Store(int32(p))
}

// Replay implements history.Replayer.
func (d *Dispatcher) Replay(ctx context.Context, op operation.Operation, dir history.Direction) error {
	switch op := op.(type) {
	case *operation.Movement:
		return d.replayMovement(ctx, op, dir)
	case *operation.Rotation:
		return d.replayRotation(ctx, op, dir)
	case *operation.Resize:
		return d.replayResize(ctx, op, dir)
	case *operation.FloorMove:
		return d.replayFloorMove(ctx, op, dir)
	case *operation.LayerMove:
		return d.replayLayerMove(ctx, op, dir)
	case *operation.ShapeRemove:
		if dir == history.Undo {
			return d.create(ctx, op.Kind(), op.Shapes)
		}
		return d.delete(ctx, op.Kind(), op.ShapeIDs())
	case *operation.ShapeAdd:
		if dir == history.Undo {
			return d.delete(ctx, op.Kind(), op.ShapeIDs())
		}
		return d.create(ctx, op.Kind(), op.Shapes)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}
}

func (d *Dispatcher) replayMovement(ctx context.Context, op *operation.Movement, dir history.Direction) error {
	shapes, err := d.resolve(op.Kind(), op.ShapeIDs())
	if err != nil || len(shapes) == 0 {
		return err
	}
	delta := op.Delta().Reverse()
	if dir == history.Redo {
		delta = op.Delta()
	}
	if err := d.transform.Move(ctx, shapes, delta, true); err != nil {
		return err
	}
	d.resetRotationHelper()
	return nil
}

func (d *Dispatcher) replayRotation(ctx context.Context, op *operation.Rotation, dir history.Direction) error {
	shapes, err := d.resolve(op.Kind(), op.ShapeIDs())
	if err != nil || len(shapes) == 0 {
		return err
	}
	angle := -op.Angle()
	if dir == history.Redo {
		angle = op.Angle()
	}
	if err := d.transform.Rotate(ctx, shapes, angle, op.Center, true); err != nil {
		return err
	}
	d.resetRotationHelper()
	return nil
}

func (d *Dispatcher) replayResize(ctx context.Context, op *operation.Resize, dir history.Direction) error {
	shapes, err := d.resolve(op.Kind(), op.ShapeIDs())
	if err != nil || len(shapes) == 0 {
		return err
	}
	target := op.FromPoint
	if dir == history.Redo {
		target = op.ToPoint
	}
	return d.transform.Resize(ctx, shapes[0], target, op.HandleIndex, op.RetainAspectRatio, true)
}

func (d *Dispatcher) replayFloorMove(ctx context.Context, op *operation.FloorMove, dir history.Direction) error {
	id := op.From
	if dir == history.Redo {
		id = op.To
	}
	floor, ok := d.floors.Floor(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrFloorNotFound, id)
	}
	shapes, err := d.resolve(op.Kind(), op.Shapes)
	if err != nil || len(shapes) == 0 {
		return err
	}
	return d.transform.MoveToFloor(ctx, shapes, floor, true)
}

func (d *Dispatcher) replayLayerMove(ctx context.Context, op *operation.LayerMove, dir history.Direction) error {
	name := op.From
	if dir == history.Redo {
		name = op.To
	}
	shapes, err := d.resolve(op.Kind(), op.Shapes)
	if err != nil || len(shapes) == 0 {
		return err
	}
	floor, ok := d.floors.Floor(shapes[0].Floor)
	if !ok {
		return fmt.Errorf("%w: %d", ErrFloorNotFound, shapes[0].Floor)
	}
	layer, ok := d.floors.Layer(floor, name)
	if !ok {
		return fmt.Errorf("%w: %q on floor %q", ErrLayerNotFound, name, floor.Name)
	}
	return d.transform.MoveToLayer(ctx, shapes, layer, true)
}

// create recreates shapes from their snapshots. A snapshot whose id already
// resolves is treated as a dangling reference.
func (d *Dispatcher) create(ctx context.Context, kind operation.Kind, snaps []operation.Snapshot) error {
	var conflicts []string
	pending := make([]operation.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if _, exists := d.shapes.Lookup(snap.ID()); exists {
			conflicts = append(conflicts, snap.ID())
			continue
		}
		pending = append(pending, snap)
	}
	if err := d.dangling(kind, conflicts); err != nil {
		return err
	}

	var errs []error
	for _, snap := range pending {
		if _, err := d.transform.Create(ctx, snap, scene.SyncFull); err != nil {
			errs = append(errs, fmt.Errorf("creating %s: %w", snap.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) delete(ctx context.Context, kind operation.Kind, ids []string) error {
	shapes, err := d.resolve(kind, ids)
	if err != nil || len(shapes) == 0 {
		return err
	}
	return d.transform.Delete(ctx, shapes, scene.SyncFull)
}

// resolve looks up every id. Missing shapes are handled according to the
// policy; with PolicySkip the shapes that do resolve are returned.
func (d *Dispatcher) resolve(kind operation.Kind, ids []string) ([]*scene.Shape, error) {
	shapes := make([]*scene.Shape, 0, len(ids))
	var missing []string
	for _, id := range ids {
		sh, ok := d.shapes.Lookup(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		shapes = append(shapes, sh)
	}
	if err := d.dangling(kind, missing); err != nil {
		return nil, err
	}
	if len(shapes) == 0 && len(ids) > 0 {
		d.logger.Warn("%s: no referenced shape remains, nothing to replay", kind)
	}
	return shapes, nil
}

func (d *Dispatcher) dangling(kind operation.Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if d.Policy() == PolicyAbort {
		return &DanglingReferenceError{Kind: kind, IDs: ids}
	}
	for _, id := range ids {
		d.logger.WithField("shape", id).Warn("%s: skipping dangling shape reference", kind)
		d.metrics.Dangling(string(kind))
	}
	return nil
}

func (d *Dispatcher) resetRotationHelper() {
	if d.selection != nil {
		d.selection.ResetRotationHelper()
	}
}
