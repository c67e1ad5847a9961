package scene

import (
	"context"

	"github.com/dshills/tabletop/internal/engine/operation"
)

// Outbound message topics. They mirror the socket events peers understand.
const (
	TopicPositionUpdate = "shapes.position.update"
	TopicRectSize       = "shape.rect.size.update"
	TopicCircleSize     = "shape.circle.size.update"
	TopicFloorChange    = "shapes.floor.change"
	TopicLayerChange    = "shapes.layer.change"
	TopicShapeAdd       = "shape.add"
	TopicShapesRemove   = "shapes.remove"
)

// SyncMode controls how a create or delete is propagated to peers.
type SyncMode int

const (
	// SyncNone applies the change locally only.
	SyncNone SyncMode = iota
	// SyncTemp propagates a transient, possibly still changing state.
	SyncTemp
	// SyncFull propagates an authoritative, settled state.
	SyncFull
)

// String returns the mode name.
func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncTemp:
		return "temp"
	case SyncFull:
		return "full"
	default:
		return "unknown"
	}
}

// Message is an outbound state change.
type Message struct {
	Topic     string `json:"topic"`
	Payload   any    `json:"payload"`
	Temporary bool   `json:"temporary"`
}

// Emitter sends outbound messages. Emit is fire-and-forget: the scene never
// waits for delivery or acknowledgement.
type Emitter interface {
	Emit(ctx context.Context, msg Message)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, msg Message)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, msg Message) {
	f(ctx, msg)
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, Message) {}

// ShapePosition is the absolute placement of one shape.
type ShapePosition struct {
	UUID  string  `json:"uuid"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// PositionUpdate is the payload of TopicPositionUpdate.
type PositionUpdate struct {
	Shapes []ShapePosition `json:"shapes"`
}

// RectSizeUpdate is the payload of TopicRectSize.
type RectSizeUpdate struct {
	UUID string  `json:"uuid"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

// CircleSizeUpdate is the payload of TopicCircleSize.
type CircleSizeUpdate struct {
	UUID string  `json:"uuid"`
	R    float64 `json:"r"`
}

// FloorChange is the payload of TopicFloorChange.
type FloorChange struct {
	UUIDs []string `json:"uuids"`
	Floor string   `json:"floor"`
}

// LayerChange is the payload of TopicLayerChange.
type LayerChange struct {
	UUIDs []string `json:"uuids"`
	Layer string   `json:"layer"`
	Floor string   `json:"floor"`
}

// ShapeAdd is the payload of TopicShapeAdd.
type ShapeAdd struct {
	Shape operation.Snapshot `json:"shape"`
}

// ShapesRemove is the payload of TopicShapesRemove.
type ShapesRemove struct {
	UUIDs []string `json:"uuids"`
}
