package scene

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/tabletop/internal/engine/geom"
)

// DecodeMessage decodes an inbound message body for topic into its typed payload.
func DecodeMessage(topic string, body []byte, temporary bool) (Message, error) {
	var payload any
	switch topic {
	case TopicPositionUpdate:
		payload = &PositionUpdate{}
	case TopicRectSize:
		payload = &RectSizeUpdate{}
	case TopicCircleSize:
		payload = &CircleSizeUpdate{}
	case TopicFloorChange:
		payload = &FloorChange{}
	case TopicLayerChange:
		payload = &LayerChange{}
	case TopicShapeAdd:
		payload = &ShapeAdd{}
	case TopicShapesRemove:
		payload = &ShapesRemove{}
	default:
		return Message{}, fmt.Errorf("unknown topic %q", topic)
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return Message{}, fmt.Errorf("decoding %s: %w", topic, err)
	}
	return Message{Topic: topic, Payload: deref(payload), Temporary: temporary}, nil
}

func deref(p any) any {
	switch v := p.(type) {
	case *PositionUpdate:
		return *v
	case *RectSizeUpdate:
		return *v
	case *CircleSizeUpdate:
		return *v
	case *FloorChange:
		return *v
	case *LayerChange:
		return *v
	case *ShapeAdd:
		return *v
	case *ShapesRemove:
		return *v
	}
	return p
}

// Apply applies a state change received from a peer. Nothing is emitted:
// the change already happened remotely. Shapes the scene does not know are
// skipped, since the peer may be ahead of or behind local state.
func (s *Scene) Apply(ctx context.Context, msg Message) error {
	switch p := msg.Payload.(type) {
	case PositionUpdate:
		s.mu.Lock()
		for _, pos := range p.Shapes {
			if sh, ok := s.shapes[pos.UUID]; ok {
				sh.Ref = geom.Pt(pos.X, pos.Y)
				sh.Angle = pos.Angle
			}
		}
		s.mu.Unlock()
	case RectSizeUpdate:
		s.mu.Lock()
		if sh, ok := s.shapes[p.UUID]; ok {
			sh.Width, sh.Height = p.W, p.H
		}
		s.mu.Unlock()
	case CircleSizeUpdate:
		s.mu.Lock()
		if sh, ok := s.shapes[p.UUID]; ok {
			sh.Radius = p.R
		}
		s.mu.Unlock()
	case FloorChange:
		floor, ok := s.FloorByName(p.Floor)
		if !ok {
			return fmt.Errorf("%w: %q", ErrFloorNotFound, p.Floor)
		}
		s.mu.Lock()
		for _, id := range p.UUIDs {
			if sh, ok := s.shapes[id]; ok {
				sh.Floor = floor.ID
			}
		}
		s.mu.Unlock()
	case LayerChange:
		floor, ok := s.FloorByName(p.Floor)
		if !ok {
			return fmt.Errorf("%w: %q", ErrFloorNotFound, p.Floor)
		}
		if _, ok := s.Layer(floor, p.Layer); !ok {
			return fmt.Errorf("%w: %q on floor %q", ErrLayerNotFound, p.Layer, p.Floor)
		}
		s.mu.Lock()
		for _, id := range p.UUIDs {
			if sh, ok := s.shapes[id]; ok {
				sh.Floor = floor.ID
				sh.Layer = p.Layer
			}
		}
		s.mu.Unlock()
	case ShapeAdd:
		// Remote adds are authoritative: replace a local copy if one exists.
		if existing, ok := s.Lookup(p.Shape.ID()); ok {
			if err := s.Delete(ctx, []*Shape{existing}, SyncNone); err != nil {
				return err
			}
		}
		if _, err := s.Create(ctx, p.Shape, SyncNone); err != nil {
			return err
		}
	case ShapesRemove:
		shapes := make([]*Shape, 0, len(p.UUIDs))
		for _, id := range p.UUIDs {
			if sh, ok := s.Lookup(id); ok {
				shapes = append(shapes, sh)
			}
		}
		return s.Delete(ctx, shapes, SyncNone)
	default:
		return fmt.Errorf("unsupported payload %T for topic %q", msg.Payload, msg.Topic)
	}
	return nil
}
