// Package history provides the undo/redo stacks of the shape editor.
//
// A History records operation.Operation values as edits happen and replays
// their inverse (or the edit again) on request. Key concepts:
//
// # Recording
//
// Record pushes an operation onto the undo stack and clears the redo stack:
// branching history is not supported, so any new edit invalidates redo lineage.
// The undo stack is capped (50 entries by default); the oldest entries are
// dropped once the cap is exceeded.
//
//	h := history.New(dispatcher)
//	h.Record(operation.NewMovement(moves...))
//
// # Undo / Redo
//
// Undo pops the most recent operation, pushes it onto the redo stack and hands
// it to the Replayer with direction Undo. Redo does the opposite. An empty stack
// is a no-op, not an error.
//
//	h.Undo(ctx)
//	h.Redo(ctx)
//
// # Replay Guard
//
// While a replay runs the history is in StateReplaying and Record is ignored, so
// the edits a replay performs never enter history themselves. The guard is
// released on every exit path, including errors and panics. A second Undo or
// Redo issued while a replay is in flight fails with ErrReplayInProgress.
//
// # Overriding
//
// OverrideLast replaces the top of the undo stack with an operation of the same
// kind. It exists for edits whose final parameters are known only after they
// complete, such as a shape drawn interactively.
package history
