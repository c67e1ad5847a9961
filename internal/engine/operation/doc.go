// Package operation defines the closed set of reversible shape edits.
//
// An Operation records what changed, carrying only what is needed to compute
// both the forward and the inverse effect:
//
//   - Movement: per-shape from/to positions
//   - Rotation: per-shape from/to angles around a shared pivot
//   - Resize: one shape, a handle and its from/to points
//   - FloorMove / LayerMove: re-parenting of a batch of shapes
//   - ShapeAdd / ShapeRemove: full snapshots, since recreation needs complete state
//
// # Batches
//
// Batch operations are rigid-body transforms applied to every shape in lockstep.
// The delta (or angle) is derived once from the first element and applied to all
// shapes, so Validate rejects batches whose elements disagree.
//
// # Immutability
//
// Constructors copy their inputs and Clone returns a deep copy. Consumers that keep
// an Operation beyond a call (the history stacks) store a clone, so later mutation of
// the caller's slices never leaks into recorded history.
//
// The interface is sealed: only the variants in this package implement it, which lets
// consumers switch over the concrete types knowing the set is closed.
package operation
