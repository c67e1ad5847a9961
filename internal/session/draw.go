package session

import (
	"context"
	"fmt"

	"github.com/dshills/tabletop/internal/engine/geom"
	"github.com/dshills/tabletop/internal/engine/operation"
	"github.com/dshills/tabletop/internal/engine/scene"
)

// BeginDraw starts drawing a new shape. The shape is created and its
// creation recorded straight away; intermediate states are sent to peers as
// temporary until FinishDraw.
func (s *Session) BeginDraw(ctx context.Context, snap operation.Snapshot) (*scene.Shape, error) {
	if s.drawing != "" {
		return nil, ErrDrawing
	}
	sh, err := s.add(ctx, snap, scene.SyncTemp)
	if err != nil {
		return nil, err
	}
	s.drawing = sh.ID
	return sh, nil
}

// DrawTo drags the far corner (or the rim of a circle) of the shape being
// drawn to p.
func (s *Session) DrawTo(ctx context.Context, p geom.Point) error {
	sh, err := s.drawn()
	if err != nil {
		return err
	}
	return s.scene.Resize(ctx, sh, p, 2, false, false)
}

// FinishDraw completes the drawing started by BeginDraw. The recorded
// creation is replaced with the final state of the shape, so undo removes
// the finished shape and redo recreates it as drawn.
func (s *Session) FinishDraw(ctx context.Context, p geom.Point) (*scene.Shape, error) {
	sh, err := s.drawn()
	if err != nil {
		return nil, err
	}
	if err := s.scene.Resize(ctx, sh, p, 2, false, true); err != nil {
		return nil, err
	}
	snap, err := s.scene.Snapshot(sh)
	if err != nil {
		return nil, err
	}
	if err := s.history.OverrideLast(operation.NewShapeAdd(snap)); err != nil {
		return nil, fmt.Errorf("finishing draw of %s: %w", sh.ID, err)
	}
	s.drawing = ""
	return sh, nil
}

// CancelDraw abandons the drawing without touching history.
func (s *Session) CancelDraw() {
	s.drawing = ""
}

// Drawing returns the id of the shape being drawn.
func (s *Session) Drawing() (string, bool) {
	return s.drawing, s.drawing != ""
}

func (s *Session) drawn() (*scene.Shape, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.drawing == "" {
		return nil, ErrNotDrawing
	}
	id := s.drawing
	sh, ok := s.scene.Lookup(id)
	if !ok {
		s.drawing = ""
		return nil, fmt.Errorf("%w: %s", scene.ErrShapeNotFound, id)
	}
	return sh, nil
}
