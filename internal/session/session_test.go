package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dshills/tabletop/internal/engine/geom"
	"github.com/dshills/tabletop/internal/engine/history"
	"github.com/dshills/tabletop/internal/engine/operation"
	"github.com/dshills/tabletop/internal/engine/replay"
	"github.com/dshills/tabletop/internal/engine/scene"
)

const tol = 1e-9

type recordingPeer struct {
	mu   sync.Mutex
	msgs []scene.Message
	err  error
}

func (p *recordingPeer) Send(_ context.Context, msg scene.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPeer) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Topic
	}
	return out
}

func newTestSession(t *testing.T, peers ...Peer) *Session {
	t.Helper()
	s, err := New(Config{Name: "test"}, WithPeers(peers...))
	if err != nil {
		t.Fatal(err)
	}
	doc := &scene.Document{
		Floors: []scene.FloorDoc{
			{ID: 0, Name: "main", Layers: []string{"map", "ground", "tokens"}},
			{ID: 1, Name: "cellar", Layers: []string{"map", "tokens"}},
		},
		Shapes: []scene.ShapeDoc{
			{UUID: "A", Type: scene.TypeRect, Width: 2, Height: 2, Floor: 0, Layer: "tokens"},
			{UUID: "B", Type: scene.TypeRect, X: 9, Y: 4, Width: 2, Height: 2, Floor: 0, Layer: "tokens"},
			{UUID: "C", Type: scene.TypeCircle, X: 5, Y: 5, Radius: 1, Floor: 0, Layer: "tokens"},
		},
	}
	if err := s.Load(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func shape(t *testing.T, s *Session, id string) scene.Shape {
	t.Helper()
	sh, ok := s.Scene().Get(id)
	if !ok {
		t.Fatalf("shape %s not found", id)
	}
	return sh
}

func TestMoveUndoRedo(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.MoveShapes(ctx, []string{"A"}, geom.Vector{X: 10, Y: 5}); err != nil {
		t.Fatal(err)
	}
	if got := shape(t, s, "A").Ref; got != geom.Pt(10, 5) {
		t.Fatalf("after move A = %+v", got)
	}
	if err := s.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if got := shape(t, s, "A").Ref; got != geom.Pt(0, 0) {
		t.Errorf("after undo A = %+v", got)
	}
	if err := s.Redo(ctx); err != nil {
		t.Fatal(err)
	}
	if got := shape(t, s, "A").Ref; got != geom.Pt(10, 5) {
		t.Errorf("after redo A = %+v", got)
	}
}

func TestRotateUndoResetsAnchor(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.RotateShapes(ctx, []string{"B"}, 90, geom.Pt(5, 5)); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Selection().RotationAnchor(); !ok {
		t.Fatal("rotation anchor not kept")
	}
	rotated := shape(t, s, "B")
	if got := rotated.Center(); !got.Approx(geom.Pt(5, 10), tol) {
		t.Errorf("after rotate center = %+v", got)
	}

	if err := s.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	b := shape(t, s, "B")
	if !b.Center().Approx(geom.Pt(10, 5), tol) || b.Angle != 0 {
		t.Errorf("after undo: %+v", b)
	}
	if _, ok := s.Selection().RotationAnchor(); ok {
		t.Error("replay did not reset the rotation anchor")
	}
}

func TestResizeUndo(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.ResizeShape(ctx, "A", 2, geom.Pt(6, 3), true); err != nil {
		t.Fatal(err)
	}
	a := shape(t, s, "A")
	if a.Width != 6 || a.Height != 6 {
		t.Fatalf("after resize: %+v", a)
	}
	_ = s.Undo(ctx)
	if a := shape(t, s, "A"); a.Width != 2 || a.Height != 2 {
		t.Errorf("after undo: %+v", a)
	}
	_ = s.Redo(ctx)
	if a := shape(t, s, "A"); a.Width != 6 || a.Height != 6 {
		t.Errorf("after redo: %+v", a)
	}

	if err := s.ResizeShape(ctx, "C", 0, geom.Pt(5, 8), false); err != nil {
		t.Fatal(err)
	}
	_ = s.Undo(ctx)
	if c := shape(t, s, "C"); c.Radius != 1 {
		t.Errorf("circle radius after undo = %v", c.Radius)
	}
}

func TestFloorAndLayerMoves(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.MoveShapesToLayer(ctx, []string{"C"}, "ground"); err != nil {
		t.Fatal(err)
	}
	if err := s.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if got := shape(t, s, "C").Layer; got != "tokens" {
		t.Errorf("after undo layer = %q, want tokens", got)
	}

	if err := s.MoveShapesToFloor(ctx, []string{"A", "B"}, 1); err != nil {
		t.Fatal(err)
	}
	if shape(t, s, "A").Floor != 1 {
		t.Fatal("floor move not applied")
	}
	_ = s.Undo(ctx)
	if shape(t, s, "A").Floor != 0 || shape(t, s, "B").Floor != 0 {
		t.Error("floor move not undone")
	}

	_ = s.MoveShapesToFloor(ctx, []string{"A"}, 1)
	if err := s.MoveShapesToFloor(ctx, []string{"A", "B"}, 0); !errors.Is(err, ErrMixedFloors) {
		t.Errorf("mixed floors = %v", err)
	}
	if err := s.MoveShapesToLayer(ctx, []string{"B"}, "nowhere"); !errors.Is(err, scene.ErrLayerNotFound) {
		t.Errorf("missing layer = %v", err)
	}
}

func TestRejectedEditLeavesSceneUntouched(t *testing.T) {
	tests := []struct {
		name string
		edit func(context.Context, *Session) error
		want error
	}{
		{"move duplicate ids", func(ctx context.Context, s *Session) error {
			return s.MoveShapes(ctx, []string{"A", "A"}, geom.Vector{X: 10, Y: 5})
		}, operation.ErrDuplicateID},
		{"rotate duplicate ids", func(ctx context.Context, s *Session) error {
			return s.RotateShapes(ctx, []string{"B", "B"}, 90, geom.Pt(0, 0))
		}, operation.ErrDuplicateID},
		{"resize circle negative handle", func(ctx context.Context, s *Session) error {
			return s.ResizeShape(ctx, "C", -1, geom.Pt(9, 5), false)
		}, history.ErrInvalidOperation},
		{"resize rect negative handle", func(ctx context.Context, s *Session) error {
			return s.ResizeShape(ctx, "A", -1, geom.Pt(9, 5), false)
		}, history.ErrInvalidOperation},
		{"floor move duplicate ids", func(ctx context.Context, s *Session) error {
			return s.MoveShapesToFloor(ctx, []string{"A", "A"}, 1)
		}, operation.ErrDuplicateID},
		{"layer move duplicate ids", func(ctx context.Context, s *Session) error {
			return s.MoveShapesToLayer(ctx, []string{"C", "C"}, "ground")
		}, operation.ErrDuplicateID},
		{"remove duplicate ids", func(ctx context.Context, s *Session) error {
			return s.RemoveShapes(ctx, []string{"B", "B"})
		}, operation.ErrDuplicateID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			before := map[string]scene.Shape{}
			for _, id := range []string{"A", "B", "C"} {
				before[id] = shape(t, s, id)
			}

			if err := tt.edit(context.Background(), s); !errors.Is(err, tt.want) {
				t.Fatalf("edit = %v, want %v", err, tt.want)
			}
			for id, want := range before {
				got := shape(t, s, id)
				if got.Ref != want.Ref || got.Angle != want.Angle || got.Radius != want.Radius ||
					got.Width != want.Width || got.Floor != want.Floor || got.Layer != want.Layer {
					t.Errorf("%s changed: %+v, was %+v", id, got, want)
				}
			}
			if n := s.History().UndoCount(); n != 0 {
				t.Errorf("undo = %d, want 0", n)
			}
			if n := len(s.Outbox().Pending()); n != 0 {
				t.Errorf("pending messages = %d, want 0", n)
			}
		})
	}
}

func TestAddRemoveUndo(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	snap := operation.MustSnapshot(`{"uuid":"N","type_":"rect","x":1,"y":1,"width":3,"height":3,"floor":0,"layer":"map","label":"door"}`)
	if _, err := s.AddShape(ctx, snap); err != nil {
		t.Fatal(err)
	}
	_ = s.Undo(ctx)
	if _, ok := s.Scene().Lookup("N"); ok {
		t.Error("undo of add left the shape")
	}
	_ = s.Redo(ctx)
	sh, ok := s.Scene().Lookup("N")
	if !ok {
		t.Fatal("redo of add did not recreate the shape")
	}
	got, _ := s.Scene().Snapshot(sh)
	if got.Get("label").String() != "door" {
		t.Errorf("attributes lost: %s", got)
	}

	if err := s.RemoveShapes(ctx, []string{"N", "A"}); err != nil {
		t.Fatal(err)
	}
	if s.Scene().Len() != 2 {
		t.Fatalf("Len() = %d after remove", s.Scene().Len())
	}
	_ = s.Undo(ctx)
	if s.Scene().Len() != 4 {
		t.Errorf("Len() = %d after undoing remove, want 4", s.Scene().Len())
	}
}

func TestRecordClearsRedo(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	_ = s.MoveShapes(ctx, []string{"A"}, geom.Vector{X: 1})
	_ = s.Undo(ctx)
	if !s.History().CanRedo() {
		t.Fatal("nothing to redo")
	}
	_ = s.MoveShapes(ctx, []string{"B"}, geom.Vector{Y: 1})
	if s.History().CanRedo() {
		t.Error("new edit did not clear redo")
	}
}

func TestUndoIsNotRecorded(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	_ = s.MoveShapes(ctx, []string{"A"}, geom.Vector{X: 1})
	_ = s.RemoveShapes(ctx, []string{"C"})
	_ = s.Undo(ctx)
	_ = s.Undo(ctx)

	if n := s.History().UndoCount(); n != 0 {
		t.Errorf("UndoCount() = %d, want 0", n)
	}
	if n := s.History().RedoCount(); n != 2 {
		t.Errorf("RedoCount() = %d, want 2", n)
	}
}

func TestApplyRemoteIsNotRecorded(t *testing.T) {
	peer := &recordingPeer{}
	s := newTestSession(t, peer)
	ctx := context.Background()

	msg := scene.Message{Topic: scene.TopicPositionUpdate, Payload: scene.PositionUpdate{Shapes: []scene.ShapePosition{{UUID: "A", X: 7, Y: 7}}}}
	if err := s.ApplyRemote(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if s.History().CanUndo() {
		t.Error("remote change was recorded")
	}
	if len(s.Outbox().Pending()) != 0 {
		t.Error("remote change was echoed to peers")
	}
	if got := shape(t, s, "A").Ref; got != geom.Pt(7, 7) {
		t.Errorf("A = %+v", got)
	}
}

func TestRemoteDeleteThenUndoSkipsDangling(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.MoveShapes(ctx, []string{"A", "B"}, geom.Vector{X: 1, Y: 1}); err != nil {
		t.Fatal(err)
	}
	_ = s.ApplyRemote(ctx, scene.Message{Topic: scene.TopicShapesRemove, Payload: scene.ShapesRemove{UUIDs: []string{"B"}}})

	if err := s.Undo(ctx); err != nil {
		t.Fatalf("Undo() = %v", err)
	}
	if got := shape(t, s, "A").Ref; got != geom.Pt(0, 0) {
		t.Errorf("A = %+v, want origin", got)
	}

	// With the abort policy the same situation fails without mutating A.
	_ = s.Redo(ctx)
	s.SetDanglingPolicy(replay.PolicyAbort)
	err := s.Undo(ctx)
	var re *history.ReplayError
	if !errors.As(err, &re) || !errors.Is(err, replay.ErrDanglingReference) {
		t.Errorf("Undo() = %v, want dangling reference replay error", err)
	}
	if got := shape(t, s, "A").Ref; got != geom.Pt(1, 1) {
		t.Errorf("A = %+v, want untouched", got)
	}
}

func TestFlushFansOutToPeers(t *testing.T) {
	p1, p2 := &recordingPeer{}, &recordingPeer{}
	s := newTestSession(t, p1, p2)
	ctx := context.Background()

	_ = s.MoveShapes(ctx, []string{"A"}, geom.Vector{X: 1})
	_ = s.MoveShapesToLayer(ctx, []string{"A"}, "map")
	_ = s.Undo(ctx)

	if n := len(s.Outbox().Pending()); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{scene.TopicPositionUpdate, scene.TopicLayerChange, scene.TopicLayerChange}
	for _, p := range []*recordingPeer{p1, p2} {
		got := p.topics()
		if len(got) != len(want) {
			t.Fatalf("peer got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("peer got %v, want %v", got, want)
				break
			}
		}
	}
	if len(s.Outbox().Pending()) != 0 {
		t.Error("queue not emptied")
	}
}

func TestFlushReportsPeerError(t *testing.T) {
	boom := errors.New("connection reset")
	s := newTestSession(t, &recordingPeer{err: boom})

	_ = s.MoveShapes(context.Background(), []string{"A"}, geom.Vector{X: 1})
	if err := s.Flush(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Flush() = %v, want %v", err, boom)
	}
	if len(s.Outbox().Pending()) != 0 {
		t.Error("failed flush kept the queue")
	}
}

func TestDrawOverridesLastAdd(t *testing.T) {
	peer := &recordingPeer{}
	s := newTestSession(t, peer)
	ctx := context.Background()

	snap := operation.MustSnapshot(`{"uuid":"D","type_":"rect","x":0,"y":0,"width":1,"height":1,"floor":0,"layer":"map"}`)
	if _, err := s.BeginDraw(ctx, snap); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddShape(ctx, operation.MustSnapshot(`{"uuid":"X","type_":"rect","floor":0,"layer":"map"}`)); !errors.Is(err, ErrDrawing) {
		t.Errorf("AddShape while drawing = %v", err)
	}
	if err := s.DrawTo(ctx, geom.Pt(4, 4)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FinishDraw(ctx, geom.Pt(8, 6)); err != nil {
		t.Fatal(err)
	}
	if n := s.History().UndoCount(); n != 1 {
		t.Fatalf("UndoCount() = %d, want 1", n)
	}

	// Undo and redo must restore the finished shape, not the initial one.
	_ = s.Undo(ctx)
	if _, ok := s.Scene().Lookup("D"); ok {
		t.Fatal("undo did not remove the drawn shape")
	}
	_ = s.Redo(ctx)
	if d := shape(t, s, "D"); d.Width != 8 || d.Height != 6 {
		t.Errorf("redo recreated %+v, want 8x6", d)
	}

	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	var temporary int
	for _, m := range peer.msgs {
		if m.Temporary {
			temporary++
		}
	}
	if temporary == 0 {
		t.Error("drawing sent no temporary updates")
	}
	if _, err := s.FinishDraw(ctx, geom.Pt(1, 1)); !errors.Is(err, ErrNotDrawing) {
		t.Errorf("FinishDraw without drawing = %v", err)
	}
}

func TestFinishDrawRejectsForeignTop(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	snap := operation.MustSnapshot(`{"uuid":"D","type_":"rect","width":1,"height":1,"floor":0,"layer":"map"}`)
	_, _ = s.BeginDraw(ctx, snap)
	_ = s.MoveShapes(ctx, []string{"A"}, geom.Vector{X: 1})

	if _, err := s.FinishDraw(ctx, geom.Pt(3, 3)); !errors.Is(err, history.ErrInvalidOverride) {
		t.Errorf("FinishDraw() = %v, want ErrInvalidOverride", err)
	}
	if n := s.History().UndoCount(); n != 2 {
		t.Errorf("UndoCount() = %d, want 2", n)
	}
}

func TestLoadResetsHistory(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	_ = s.MoveShapes(ctx, []string{"A"}, geom.Vector{X: 1})

	if err := s.Load(ctx, &scene.Document{}); err != nil {
		t.Fatal(err)
	}
	if s.History().CanUndo() || s.Scene().Len() != 0 || len(s.Outbox().Pending()) != 0 {
		t.Error("Load did not reset session state")
	}
}

func TestClose(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "local" {
		t.Errorf("Name() = %q", s.Name())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v", err)
	}
	if err := s.MoveShapes(context.Background(), []string{"A"}, geom.Vector{}); !errors.Is(err, ErrClosed) {
		t.Errorf("MoveShapes after Close = %v", err)
	}
	if err := s.Undo(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Undo after Close = %v", err)
	}
}

func TestInvalidEdits(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.MoveShapes(ctx, nil, geom.Vector{X: 1}); !errors.Is(err, ErrNoShapes) {
		t.Errorf("empty move = %v", err)
	}
	if err := s.MoveShapes(ctx, []string{"ghost"}, geom.Vector{X: 1}); !errors.Is(err, scene.ErrShapeNotFound) {
		t.Errorf("unknown shape = %v", err)
	}
	if s.History().CanUndo() {
		t.Error("failed edits were recorded")
	}
}

func TestSetMaxUndo(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.MoveShapes(ctx, []string{"A"}, geom.Vector{X: 1})
	}
	s.SetMaxUndo(3)
	if n := s.History().UndoCount(); n != 3 {
		t.Errorf("UndoCount() = %d, want 3", n)
	}
}
