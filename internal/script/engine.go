// Package script runs Lua edit scripts against a session.
//
// Scripts run in a sandboxed interpreter with only the base, table, string
// and math libraries. The session is exposed as the global table
// "tabletop":
//
//	tabletop.move({"A", "B"}, 10, 5)
//	tabletop.rotate("B", 90, 5, 5)
//	tabletop.resize("A", 2, 20, 10, true)
//	tabletop.to_floor({"A"}, 1)
//	tabletop.to_layer("C", "ground")
//	local id = tabletop.add({type_ = "rect", x = 0, y = 0, width = 5, height = 5, floor = 0, layer = "tokens"})
//	tabletop.remove(id)
//	tabletop.undo()
//	tabletop.redo()
//
// Every edit function raises a Lua error when the edit fails.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/tabletop/internal/logging"
	"github.com/dshills/tabletop/internal/session"
)

// ErrClosed is returned when running a script on a closed engine.
var ErrClosed = errors.New("script engine is closed")

// Engine is a sandboxed Lua interpreter bound to a session. An Engine is
// not safe for concurrent script execution; calls are serialized.
type Engine struct {
	mu     sync.Mutex
	L      *lua.LState
	sess   *session.Session
	logger *logging.Logger
	ctx    context.Context
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger that receives print output and errors.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.WithComponent("script")
		}
	}
}

// New creates an engine bound to sess.
func New(sess *session.Session, opts ...Option) *Engine {
	e := &Engine{
		sess:   sess,
		logger: logging.Null(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(e.L)
	e.L.SetGlobal("print", e.L.NewFunction(e.luaPrint))
	e.L.SetGlobal("tabletop", e.newAPI())
	return e
}

// openSafeLibraries opens the libraries that cannot reach the host.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// DoString runs a Lua chunk.
func (e *Engine) DoString(ctx context.Context, code string) error {
	return e.run(ctx, func() error { return e.L.DoString(code) })
}

// DoFile runs a Lua file.
func (e *Engine) DoFile(ctx context.Context, path string) error {
	return e.run(ctx, func() error { return e.L.DoFile(path) })
}

func (e *Engine) run(ctx context.Context, fn func() error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	e.ctx = ctx
	e.L.SetContext(ctx)
	defer func() {
		e.L.RemoveContext()
		e.ctx = context.Background()
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	if err := fn(); err != nil {
		e.logger.Error("script failed: %v", err)
		return err
	}
	return nil
}

// Close releases the interpreter.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.L.Close()
}

func (e *Engine) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.logger.Info("%s", strings.Join(parts, "\t"))
	return 0
}
