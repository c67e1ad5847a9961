package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/tabletop/internal/engine/operation"
	"github.com/dshills/tabletop/internal/logging"
	"github.com/dshills/tabletop/internal/metrics"
)

// DefaultMaxEntries is the default cap on the undo stack.
const DefaultMaxEntries = 50

// Common errors for history operations.
var (
	// ErrInvalidOverride is returned by OverrideLast when the undo stack is
	// empty or its top entry is of a different kind. It signals a bug at the
	// call site rather than a runtime condition.
	ErrInvalidOverride = errors.New("invalid override of last operation")

	// ErrInvalidOperation is returned by Record for operations that fail validation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrReplayInProgress is returned by Undo and Redo while another replay runs.
	ErrReplayInProgress = errors.New("replay already in progress")
)

// Direction is the direction in which an operation is replayed.
type Direction int

const (
	// Undo replays the inverse of an operation.
	Undo Direction = iota
	// Redo re-applies an operation.
	Redo
)

// String returns the direction name.
func (d Direction) String() string {
	if d == Redo {
		return "redo"
	}
	return "undo"
}

// Replayer applies an operation to live shape state in the given direction.
type Replayer interface {
	Replay(ctx context.Context, op operation.Operation, dir Direction) error
}

// ReplayerFunc adapts a function to the Replayer interface.
type ReplayerFunc func(ctx context.Context, op operation.Operation, dir Direction) error

// Replay implements Replayer.
func (f ReplayerFunc) Replay(ctx context.Context, op operation.Operation, dir Direction) error {
	return f(ctx, op, dir)
}

// Validator performs checks on an operation that need outside state,
// such as whether the shapes it references exist.
type Validator interface {
	Validate(op operation.Operation) error
}

// ReplayError reports a failed undo or redo.
type ReplayError struct {
	Kind      operation.Kind
	Direction Direction
	Err       error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Direction, e.Kind, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// OperationInfo provides read-only info about a recorded operation.
// Used for displaying undo/redo history to users.
type OperationInfo struct {
	Kind        operation.Kind
	Description string
	Timestamp   time.Time
}

// entry wraps an operation with metadata.
type entry struct {
	op        operation.Operation
	timestamp time.Time
}

func (e *entry) info() OperationInfo {
	return OperationInfo{
		Kind:        e.op.Kind(),
		Description: e.op.Description(),
		Timestamp:   e.timestamp,
	}
}

// History manages the undo/redo stacks of one editing session.
type History struct {
	mu sync.Mutex

	undoStack []*entry
	redoStack []*entry

	state atomic.Int32

	replayer  Replayer
	validator Validator

	// Configuration
	maxEntries int

	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a History.
type Option func(*History)

// WithMaxEntries sets the undo stack cap. Non-positive values select the default.
func WithMaxEntries(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.maxEntries = n
		}
	}
}

// WithValidator sets a validator consulted by Record.
func WithValidator(v Validator) Option {
	return func(h *History) {
		h.validator = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *History) {
		if l != nil {
			h.logger = l.WithComponent("history")
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *History) {
		h.metrics = m
	}
}

// New creates a history that replays operations through r.
func New(r Replayer, opts ...Option) *History {
	h := &History{
		replayer:   r,
		maxEntries: DefaultMaxEntries,
		logger:     logging.Null(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Record adds an operation to the undo stack and clears the redo stack.
// While a replay is in progress the call is ignored and returns nil, so the
// edits a replay performs are never recorded.
func (h *History) Record(op operation.Operation) error {
	if op == nil {
		return fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	if h.IsReplaying() {
		h.metrics.RecordIgnored()
		h.logger.Debug("ignoring %s recorded during replay", op.Kind())
		return nil
	}

	if err := h.validate(op); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.undoStack = append(h.undoStack, &entry{op: op.Clone(), timestamp: h.now()})
	h.redoStack = nil
	evicted := h.trimLocked()

	h.metrics.Recorded(string(op.Kind()))
	h.metrics.Evicted(evicted)
	h.metrics.Depth(len(h.undoStack), len(h.redoStack))
	h.logger.Debug("recorded %s (undo=%d)", op.Kind(), len(h.undoStack))
	return nil
}

func (h *History) validate(op operation.Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidOperation, op.Kind(), err)
	}
	if h.validator != nil {
		if err := h.validator.Validate(op); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidOperation, op.Kind(), err)
		}
	}
	return nil
}

// trimLocked drops the oldest entries beyond the cap and returns how many were dropped.
func (h *History) trimLocked() int {
	if len(h.undoStack) <= h.maxEntries {
		return 0
	}
	excess := len(h.undoStack) - h.maxEntries
	for i := 0; i < excess; i++ {
		h.undoStack[i] = nil
	}
	h.undoStack = h.undoStack[excess:]
	return excess
}

// OverrideLast replaces the most recent undo entry with op.
// The top entry must exist and be of the same kind as op; otherwise
// ErrInvalidOverride is returned and the stack is left untouched.
func (h *History) OverrideLast(op operation.Operation) error {
	if op == nil {
		return fmt.Errorf("%w: nil operation", ErrInvalidOverride)
	}
	if err := h.validate(op); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.undoStack)
	if n == 0 {
		return fmt.Errorf("%w: undo stack is empty", ErrInvalidOverride)
	}
	top := h.undoStack[n-1]
	if top.op.Kind() != op.Kind() {
		return fmt.Errorf("%w: top is %s, got %s", ErrInvalidOverride, top.op.Kind(), op.Kind())
	}

	h.undoStack[n-1] = &entry{op: op.Clone(), timestamp: h.now()}
	h.logger.Debug("overrode last %s", op.Kind())
	return nil
}

// Undo replays the inverse of the most recent operation and moves it to the
// redo stack. It is a no-op when there is nothing to undo.
func (h *History) Undo(ctx context.Context) error {
	return h.step(ctx, Undo)
}

// Redo re-applies the most recently undone operation and moves it back to the
// undo stack. It is a no-op when there is nothing to redo.
func (h *History) Redo(ctx context.Context) error {
	return h.step(ctx, Redo)
}

// step moves one entry between the stacks and replays it.
// The entry is moved before the replay runs and stays moved even if the
// replay fails: a replay always runs to completion and is never rolled back.
func (h *History) step(ctx context.Context, dir Direction) error {
	scope, err := h.beginReplay()
	if err != nil {
		return err
	}
	defer scope.End()

	h.mu.Lock()
	src, dst := &h.undoStack, &h.redoStack
	if dir == Redo {
		src, dst = dst, src
	}
	if len(*src) == 0 {
		h.mu.Unlock()
		return nil
	}
	e := (*src)[len(*src)-1]
	(*src)[len(*src)-1] = nil
	*src = (*src)[:len(*src)-1]
	*dst = append(*dst, e)
	h.metrics.Depth(len(h.undoStack), len(h.redoStack))
	h.mu.Unlock()

	// Replay without holding the lock so introspection stays available.
	err = h.replayer.Replay(ctx, e.op, dir)
	h.metrics.Replayed(string(e.op.Kind()), dir.String(), err)
	if err != nil {
		h.logger.Error("%s %s failed: %v", dir, e.op.Kind(), err)
		return &ReplayError{Kind: e.op.Kind(), Direction: dir, Err: err}
	}
	h.logger.Debug("%s %s", dir, e.op.Kind())
	return nil
}

// Clear removes all undo/redo history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.undoStack = nil
	h.redoStack = nil
	h.metrics.Depth(0, 0)
}

// CanUndo returns true if undo is available.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack) > 0
}

// CanRedo returns true if redo is available.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack) > 0
}

// UndoCount returns the number of undo operations available.
func (h *History) UndoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack)
}

// RedoCount returns the number of redo operations available.
func (h *History) RedoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack)
}

// UndoInfo returns info about available undo operations, oldest first.
func (h *History) UndoInfo() []OperationInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return infos(h.undoStack)
}

// RedoInfo returns info about available redo operations, oldest first.
func (h *History) RedoInfo() []OperationInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return infos(h.redoStack)
}

func infos(stack []*entry) []OperationInfo {
	result := make([]OperationInfo, len(stack))
	for i, e := range stack {
		result[i] = e.info()
	}
	return result
}

// PeekUndo returns info about the next undo operation without removing it.
func (h *History) PeekUndo() (OperationInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.undoStack) == 0 {
		return OperationInfo{}, false
	}
	return h.undoStack[len(h.undoStack)-1].info(), true
}

// PeekRedo returns info about the next redo operation without removing it.
func (h *History) PeekRedo() (OperationInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.redoStack) == 0 {
		return OperationInfo{}, false
	}
	return h.redoStack[len(h.redoStack)-1].info(), true
}

// SetMaxEntries changes the undo stack cap.
// If the current stack is larger, oldest entries are removed.
func (h *History) SetMaxEntries(max int) {
	if max <= 0 {
		max = DefaultMaxEntries
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.maxEntries = max
	evicted := h.trimLocked()
	h.metrics.Evicted(evicted)
	h.metrics.Depth(len(h.undoStack), len(h.redoStack))
}

// MaxEntries returns the undo stack cap.
func (h *History) MaxEntries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxEntries
}
