package replay

import (
	"fmt"

	"github.com/dshills/tabletop/internal/engine/operation"
	"github.com/dshills/tabletop/internal/engine/scene"
)

// Validate implements history.Validator. It is called when an operation is
// recorded, right after the edit was applied, and checks the operation
// against the resulting scene state:
//
//   - shapes moved, rotated, resized or re-parented must exist
//   - a layer movement must not span floors
//   - added shapes must exist and removed shapes must be gone
func (d *Dispatcher) Validate(op operation.Operation) error {
	switch op := op.(type) {
	case *operation.Movement, *operation.Rotation, *operation.Resize, *operation.ShapeAdd:
		_, err := d.lookupAll(op.ShapeIDs())
		return err
	case *operation.FloorMove:
		if _, ok := d.floors.Floor(op.From); !ok {
			return fmt.Errorf("%w: %d", ErrFloorNotFound, op.From)
		}
		if _, ok := d.floors.Floor(op.To); !ok {
			return fmt.Errorf("%w: %d", ErrFloorNotFound, op.To)
		}
		_, err := d.lookupAll(op.Shapes)
		return err
	case *operation.LayerMove:
		shapes, err := d.lookupAll(op.Shapes)
		if err != nil || len(shapes) == 0 {
			return err
		}
		for _, sh := range shapes[1:] {
			if sh.Floor != shapes[0].Floor {
				return fmt.Errorf("%w: %s is on floor %d, %s on floor %d",
					ErrMixedFloors, shapes[0].ID, shapes[0].Floor, sh.ID, sh.Floor)
			}
		}
		return nil
	case *operation.ShapeRemove:
		for _, id := range op.ShapeIDs() {
			if _, ok := d.shapes.Lookup(id); ok {
				return fmt.Errorf("%w: %s", scene.ErrShapeExists, id)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}
}

func (d *Dispatcher) lookupAll(ids []string) ([]*scene.Shape, error) {
	shapes := make([]*scene.Shape, 0, len(ids))
	for _, id := range ids {
		sh, ok := d.shapes.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", scene.ErrShapeNotFound, id)
		}
		shapes = append(shapes, sh)
	}
	return shapes, nil
}
