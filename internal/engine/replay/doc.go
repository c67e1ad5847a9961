// Package replay applies recorded operations to live shape state.
//
// A Dispatcher implements history.Replayer. For each operation variant it
// knows how to reverse the edit (undo) and how to re-apply it (redo), using
// the transform primitives of the scene. Every replay is final: the
// resulting state is propagated to peers as authoritative.
//
// Shapes referenced by an operation may have been removed since it was
// recorded, for example by a remote peer. How such dangling references are
// treated is controlled by Policy:
//
//	PolicySkip   log the missing shape, count it, and continue with the rest
//	PolicyAbort  fail the replay before anything is mutated
//
// The Dispatcher also implements history.Validator, so operations are checked
// against the scene when they are recorded rather than when they are replayed.
package replay
