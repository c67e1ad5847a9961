// Package session ties a scene, its undo history and the outbound message
// channel together into one collaborative editing session.
//
// Local edits go through the Session methods: each checks the operation,
// applies the change to the scene, which propagates it to peers, and then
// records the operation so it can be undone. Changes received from peers go through ApplyRemote
// and are never recorded.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dshills/tabletop/internal/engine/geom"
	"github.com/dshills/tabletop/internal/engine/history"
	"github.com/dshills/tabletop/internal/engine/operation"
	"github.com/dshills/tabletop/internal/engine/replay"
	"github.com/dshills/tabletop/internal/engine/scene"
	"github.com/dshills/tabletop/internal/event"
	"github.com/dshills/tabletop/internal/event/topic"
	"github.com/dshills/tabletop/internal/logging"
	"github.com/dshills/tabletop/internal/metrics"
)

// Session errors.
var (
	ErrClosed       = errors.New("session is closed")
	ErrMixedFloors  = errors.New("shapes are on different floors")
	ErrMixedLayers  = errors.New("shapes are on different layers")
	ErrNotDrawing   = errors.New("no shape is being drawn")
	ErrDrawing      = errors.New("a shape is already being drawn")
	ErrNoShapes     = errors.New("no shapes given")
	ErrNotSupported = errors.New("operation not supported for shape type")
)

// Config holds session settings.
type Config struct {
	Name           string
	MaxUndo        int
	DanglingPolicy replay.Policy
}

// Session is a live editing session.
type Session struct {
	name string

	bus        *event.Bus
	scene      *scene.Scene
	history    *history.History
	dispatcher *replay.Dispatcher
	outbox     *Outbox
	selection  *Selection

	drawing string

	logger  *logging.Logger
	metrics *metrics.Metrics
	closed  atomic.Bool
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	peers   []Peer
	newID   func() string
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPeers registers peers on the outbox.
func WithPeers(peers ...Peer) Option {
	return func(o *options) { o.peers = append(o.peers, peers...) }
}

// WithIDGenerator overrides how shape ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// New creates a session with an empty scene.
func New(cfg Config, opts ...Option) (*Session, error) {
	o := options{logger: logging.Null()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Name == "" {
		cfg.Name = "local"
	}

	s := &Session{
		name:      cfg.Name,
		selection: &Selection{},
		logger:    o.logger.WithComponent("session").WithField("session", cfg.Name),
		metrics:   o.metrics,
	}
	s.bus = event.NewBus(event.WithLogger(o.logger))

	sceneOpts := []scene.Option{scene.WithEmitter(scene.EmitterFunc(s.publish))}
	if o.newID != nil {
		sceneOpts = append(sceneOpts, scene.WithIDGenerator(o.newID))
	}
	s.scene = scene.New(sceneOpts...)

	s.dispatcher = replay.ForScene(s.scene,
		replay.WithPolicy(cfg.DanglingPolicy),
		replay.WithSelectionTool(s.selection),
		replay.WithLogger(o.logger),
		replay.WithMetrics(o.metrics),
	)
	s.history = history.New(s.dispatcher,
		history.WithMaxEntries(cfg.MaxUndo),
		history.WithValidator(s.dispatcher),
		history.WithLogger(o.logger),
		history.WithMetrics(o.metrics),
	)

	outbox, err := NewOutbox(s.bus, o.logger)
	if err != nil {
		return nil, err
	}
	for _, p := range o.peers {
		outbox.AddPeer(p)
	}
	s.outbox = outbox
	return s, nil
}

// publish forwards a scene message onto the bus.
func (s *Session) publish(ctx context.Context, msg scene.Message) {
	ev := event.NewEvent(topic.Topic(msg.Topic), msg, s.name)
	if err := s.bus.Publish(ctx, ev); err != nil && !errors.Is(err, event.ErrBusClosed) {
		s.logger.Warn("publishing %s: %v", msg.Topic, err)
	}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Scene returns the live scene.
func (s *Session) Scene() *scene.Scene { return s.scene }

// History returns the undo history.
func (s *Session) History() *history.History { return s.history }

// Outbox returns the outbound message queue.
func (s *Session) Outbox() *Outbox { return s.outbox }

// Bus returns the event bus outbound messages are published on.
func (s *Session) Bus() *event.Bus { return s.bus }

// Selection returns the selection state.
func (s *Session) Selection() *Selection { return s.selection }

// SetMaxUndo changes the undo cap.
func (s *Session) SetMaxUndo(n int) { s.history.SetMaxEntries(n) }

// SetDanglingPolicy changes how replays treat missing shapes.
func (s *Session) SetDanglingPolicy(p replay.Policy) { s.dispatcher.SetPolicy(p) }

func (s *Session) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// validate runs the structural checks Record would run, ahead of the edit.
func (s *Session) validate(op operation.Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", history.ErrInvalidOperation, op.Kind(), err)
	}
	return nil
}

func (s *Session) resolve(ids []string) ([]*scene.Shape, error) {
	if len(ids) == 0 {
		return nil, ErrNoShapes
	}
	shapes := make([]*scene.Shape, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", operation.ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		sh, ok := s.scene.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", scene.ErrShapeNotFound, id)
		}
		shapes = append(shapes, sh)
	}
	return shapes, nil
}

// MoveShapes translates shapes by delta and records the movement.
// The operation is validated before the scene is touched, so a rejected
// edit leaves no trace.
func (s *Session) MoveShapes(ctx context.Context, ids []string, delta geom.Vector) error {
	if err := s.check(); err != nil {
		return err
	}
	shapes, err := s.resolve(ids)
	if err != nil {
		return err
	}

	moves := make([]operation.ShapeMove, len(shapes))
	for i, sh := range shapes {
		moves[i] = operation.ShapeMove{ID: sh.ID, From: sh.Ref, To: sh.Ref.Add(delta)}
	}
	if err := s.validate(operation.NewMovement(moves...)); err != nil {
		return err
	}
	if err := s.scene.Move(ctx, shapes, delta, true); err != nil {
		return err
	}
	for i, sh := range shapes {
		moves[i].To = sh.Ref
	}
	s.selection.ResetRotationHelper()
	return s.history.Record(operation.NewMovement(moves...))
}

// RotateShapes rotates shapes by angle degrees around center and records
// the rotation. The pivot is kept as the selection's rotation anchor.
func (s *Session) RotateShapes(ctx context.Context, ids []string, angle float64, center geom.Point) error {
	if err := s.check(); err != nil {
		return err
	}
	shapes, err := s.resolve(ids)
	if err != nil {
		return err
	}

	rots := make([]operation.ShapeRotation, len(shapes))
	for i, sh := range shapes {
		rots[i] = operation.ShapeRotation{ID: sh.ID, From: sh.Angle, To: sh.Angle + angle}
	}
	if err := s.validate(operation.NewRotation(center, rots...)); err != nil {
		return err
	}
	if err := s.scene.Rotate(ctx, shapes, angle, center, true); err != nil {
		return err
	}
	for i, sh := range shapes {
		rots[i].To = sh.Angle
	}
	s.selection.setRotationAnchor(center)
	return s.history.Record(operation.NewRotation(center, rots...))
}

// ResizeShape drags resize handle of shape id to target and records the resize.
func (s *Session) ResizeShape(ctx context.Context, id string, handle int, target geom.Point, retainAspectRatio bool) error {
	if err := s.check(); err != nil {
		return err
	}
	shapes, err := s.resolve([]string{id})
	if err != nil {
		return err
	}
	sh := shapes[0]

	var from geom.Point
	switch sh.Type {
	case scene.TypeRect:
		from = sh.Corner(handle)
	case scene.TypeCircle:
		from = sh.Ref.Add(geom.Vector{X: sh.Radius})
	default:
		return fmt.Errorf("%w: %s", ErrNotSupported, sh.Type)
	}
	if err := s.validate(operation.NewResize(id, from, target, handle, retainAspectRatio)); err != nil {
		return err
	}

	if err := s.scene.Resize(ctx, sh, target, handle, retainAspectRatio, true); err != nil {
		return err
	}
	// The handle may not land on target when the aspect ratio is kept.
	to := target
	if sh.Type == scene.TypeRect {
		to = sh.Corner(handle)
	}
	return s.history.Record(operation.NewResize(id, from, to, handle, retainAspectRatio))
}

// MoveShapesToFloor moves shapes to another floor and records the move.
// All shapes must start on the same floor.
func (s *Session) MoveShapesToFloor(ctx context.Context, ids []string, floorID int) error {
	if err := s.check(); err != nil {
		return err
	}
	shapes, err := s.resolve(ids)
	if err != nil {
		return err
	}
	from := shapes[0].Floor
	for _, sh := range shapes[1:] {
		if sh.Floor != from {
			return fmt.Errorf("%w: %s, %s", ErrMixedFloors, shapes[0].ID, sh.ID)
		}
	}
	floor, ok := s.scene.Floor(floorID)
	if !ok {
		return fmt.Errorf("%w: %d", scene.ErrFloorNotFound, floorID)
	}

	if err := s.scene.MoveToFloor(ctx, shapes, floor, true); err != nil {
		return err
	}
	return s.history.Record(operation.NewFloorMove(from, floorID, ids...))
}

// MoveShapesToLayer moves shapes to another layer of their floor and
// records the move. All shapes must start on the same floor and layer.
func (s *Session) MoveShapesToLayer(ctx context.Context, ids []string, layerName string) error {
	if err := s.check(); err != nil {
		return err
	}
	shapes, err := s.resolve(ids)
	if err != nil {
		return err
	}
	first := shapes[0]
	for _, sh := range shapes[1:] {
		if sh.Floor != first.Floor {
			return fmt.Errorf("%w: %s, %s", ErrMixedFloors, first.ID, sh.ID)
		}
		if sh.Layer != first.Layer {
			return fmt.Errorf("%w: %s, %s", ErrMixedLayers, first.ID, sh.ID)
		}
	}
	floor, _ := s.scene.Floor(first.Floor)
	layer, ok := s.scene.Layer(floor, layerName)
	if !ok {
		return fmt.Errorf("%w: %q", scene.ErrLayerNotFound, layerName)
	}

	from := first.Layer
	if err := s.scene.MoveToLayer(ctx, shapes, layer, true); err != nil {
		return err
	}
	return s.history.Record(operation.NewLayerMove(from, layerName, ids...))
}

// AddShape creates a shape from snap and records the creation. It is
// refused while a shape is being drawn, since FinishDraw overrides the most
// recent creation.
func (s *Session) AddShape(ctx context.Context, snap operation.Snapshot) (*scene.Shape, error) {
	if s.drawing != "" {
		return nil, ErrDrawing
	}
	return s.add(ctx, snap, scene.SyncFull)
}

func (s *Session) add(ctx context.Context, snap operation.Snapshot, mode scene.SyncMode) (*scene.Shape, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sh, err := s.scene.Create(ctx, snap, mode)
	if err != nil {
		return nil, err
	}
	recorded, err := s.scene.Snapshot(sh)
	if err != nil {
		return nil, err
	}
	if err := s.history.Record(operation.NewShapeAdd(recorded)); err != nil {
		return nil, err
	}
	return sh, nil
}

// RemoveShapes deletes shapes and records their snapshots so the removal
// can be undone.
func (s *Session) RemoveShapes(ctx context.Context, ids []string) error {
	if err := s.check(); err != nil {
		return err
	}
	shapes, err := s.resolve(ids)
	if err != nil {
		return err
	}
	snaps := make([]operation.Snapshot, len(shapes))
	for i, sh := range shapes {
		if snaps[i], err = s.scene.Snapshot(sh); err != nil {
			return err
		}
	}
	if err := s.scene.Delete(ctx, shapes, scene.SyncFull); err != nil {
		return err
	}
	return s.history.Record(operation.NewShapeRemove(snaps...))
}

// Undo reverts the most recent operation.
func (s *Session) Undo(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.history.Undo(ctx)
}

// Redo re-applies the most recently undone operation.
func (s *Session) Redo(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.history.Redo(ctx)
}

// Clear drops the undo history.
func (s *Session) Clear() {
	s.history.Clear()
}

// Load replaces the scene with doc. History and queued messages are dropped
// since they refer to the previous scene.
func (s *Session) Load(ctx context.Context, doc *scene.Document) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.scene.Load(ctx, doc); err != nil {
		return err
	}
	s.history.Clear()
	s.outbox.Drop()
	s.selection.Set()
	s.drawing = ""
	s.logger.Info("loaded scene: %d floors, %d shapes", len(doc.Floors), s.scene.Len())
	return nil
}

// ApplyRemote applies a change made by a peer. It is never recorded and
// nothing is sent back out.
func (s *Session) ApplyRemote(ctx context.Context, msg scene.Message) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.scene.Apply(ctx, msg); err != nil {
		return fmt.Errorf("applying remote %s: %w", msg.Topic, err)
	}
	if msg.Topic == scene.TopicShapesRemove && s.drawing != "" {
		if _, ok := s.scene.Lookup(s.drawing); !ok {
			s.drawing = ""
		}
	}
	return nil
}

// Flush sends queued messages to the peers.
func (s *Session) Flush(ctx context.Context) error {
	return s.outbox.Flush(ctx)
}

// Close tears the session down. Queued messages are discarded.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.outbox.Close()
	s.bus.Close()
	s.history.Clear()
	s.logger.Debug("closed")
	return nil
}
