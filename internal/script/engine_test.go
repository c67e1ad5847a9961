package script

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/tabletop/internal/engine/scene"
	"github.com/dshills/tabletop/internal/logging"
	"github.com/dshills/tabletop/internal/session"
)

func newTestEngine(t *testing.T) (*Engine, *session.Session, *bytes.Buffer) {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: logs})

	sess, err := session.New(session.Config{Name: "script"}, session.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	doc := &scene.Document{
		Floors: []scene.FloorDoc{
			{ID: 0, Name: "main", Layers: []string{"ground", "tokens"}},
			{ID: 1, Name: "cellar", Layers: []string{"tokens"}},
		},
		Shapes: []scene.ShapeDoc{
			{UUID: "A", Type: scene.TypeRect, Width: 2, Height: 2, Floor: 0, Layer: "tokens"},
			{UUID: "B", Type: scene.TypeRect, X: 4, Y: 4, Width: 2, Height: 2, Floor: 0, Layer: "tokens"},
		},
	}
	if err := sess.Load(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	e := New(sess, WithLogger(logger))
	t.Cleanup(func() {
		e.Close()
		_ = sess.Close()
	})
	return e, sess, logs
}

func TestMoveAndUndo(t *testing.T) {
	e, sess, _ := newTestEngine(t)
	ctx := context.Background()

	err := e.DoString(ctx, `
tabletop.move({"A", "B"}, 10, 5)
local a = tabletop.shape("A")
assert(a.x == 10 and a.y == 5, "move not applied")
assert(tabletop.can_undo())
assert(tabletop.undo() == true)
assert(tabletop.shape("B").x == 4)
assert(tabletop.can_redo())
`)
	if err != nil {
		t.Fatal(err)
	}
	if sess.History().UndoCount() != 0 || sess.History().RedoCount() != 1 {
		t.Errorf("undo=%d redo=%d", sess.History().UndoCount(), sess.History().RedoCount())
	}

	if err := e.DoString(ctx, `tabletop.redo()`); err != nil {
		t.Fatal(err)
	}
	a, _ := sess.Scene().Get("A")
	if a.Ref.X != 10 || a.Ref.Y != 5 {
		t.Errorf("after redo A at %v", a.Ref)
	}
}

func TestSingleIDArgument(t *testing.T) {
	e, sess, _ := newTestEngine(t)
	if err := e.DoString(context.Background(), `tabletop.to_layer("A", "ground")`); err != nil {
		t.Fatal(err)
	}
	a, _ := sess.Scene().Get("A")
	if a.Layer != "ground" {
		t.Errorf("layer = %q", a.Layer)
	}
}

func TestAddAndRemove(t *testing.T) {
	e, sess, _ := newTestEngine(t)
	ctx := context.Background()

	err := e.DoString(ctx, `
id = tabletop.add({type_ = "circle", x = 3, y = 3, radius = 2, floor = 1, layer = "tokens", color = "red"})
local s = tabletop.shape(id)
assert(s.radius == 2 and s.floor == 1)
assert(#tabletop.shapes() == 3)
`)
	if err != nil {
		t.Fatal(err)
	}
	id := e.L.GetGlobal("id").String()
	if id == "" {
		t.Fatal("add returned no id")
	}
	sh, ok := sess.Scene().Get(id)
	if !ok || sh.Type != scene.TypeCircle {
		t.Fatalf("added shape = %+v, %v", sh, ok)
	}
	snap, err := sess.Scene().Snapshot(&sh)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Get("color").String() != "red" {
		t.Errorf("extra attribute lost: %s", snap)
	}

	if err := e.DoString(ctx, `tabletop.remove(id); tabletop.undo()`); err != nil {
		t.Fatal(err)
	}
	if _, ok := sess.Scene().Get(id); !ok {
		t.Error("undo of remove did not restore the shape")
	}
}

func TestDraw(t *testing.T) {
	e, sess, _ := newTestEngine(t)
	err := e.DoString(context.Background(), `
local id = tabletop.draw_begin({type_ = "rect", x = 1, y = 1, width = 0, height = 0, floor = 0, layer = "ground"})
tabletop.draw_to(3, 3)
tabletop.draw_finish(5, 4)
local s = tabletop.shape(id)
assert(s.width == 4 and s.height == 3, "drawn size " .. s.width .. "x" .. s.height)
`)
	if err != nil {
		t.Fatal(err)
	}
	if n := sess.History().UndoCount(); n != 1 {
		t.Errorf("UndoCount = %d, want 1", n)
	}
}

func TestEditErrorsRaise(t *testing.T) {
	e, _, logs := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		code string
	}{
		{"unknown shape", `tabletop.move("Z", 1, 1)`},
		{"bad ids", `tabletop.move(42, 1, 1)`},
		{"missing number", `tabletop.move("A", 1)`},
		{"unknown floor", `tabletop.to_floor("A", 9)`},
		{"positional shape", `tabletop.add({1, 2, 3})`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.DoString(ctx, tt.code)
			var apiErr *lua.ApiError
			if !errors.As(err, &apiErr) {
				t.Fatalf("DoString() = %v, want lua error", err)
			}
		})
	}
	if !strings.Contains(logs.String(), "script failed") {
		t.Error("script failure not logged")
	}
}

func TestPcallCatchesEditErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.DoString(context.Background(), `
local ok, msg = pcall(tabletop.move, "Z", 1, 1)
assert(not ok)
assert(string.find(msg, "Z"), msg)
`)
	if err != nil {
		t.Fatal(err)
	}
}

func TestRejectedEditIsNotApplied(t *testing.T) {
	e, sess, _ := newTestEngine(t)
	err := e.DoString(context.Background(), `
assert(not pcall(tabletop.move, {"A", "A"}, 10, 5))
assert(not pcall(tabletop.rotate, {"B", "B"}, 90, 0, 0))
assert(not pcall(tabletop.resize, "B", -1, 9, 9))
local a = tabletop.shape("A")
assert(a.x == 0 and a.y == 0, "A moved")
local b = tabletop.shape("B")
assert(b.angle == 0 and b.width == 2, "B changed")
assert(not tabletop.can_undo())
`)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(sess.Outbox().Pending()); n != 0 {
		t.Errorf("pending messages = %d, want 0", n)
	}
}

func TestSandbox(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.DoString(context.Background(), `
assert(io == nil)
assert(os == nil)
assert(require == nil)
assert(dofile == nil)
assert(loadstring == nil)
assert(string.upper("x") == "X")
assert(math.floor(2.5) == 2)
`)
	if err != nil {
		t.Fatal(err)
	}
}

func TestPrintLogs(t *testing.T) {
	e, _, logs := newTestEngine(t)
	if err := e.DoString(context.Background(), `print("hello", 42)`); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs.String(), "hello\t42") {
		t.Errorf("logs = %q", logs.String())
	}
}

func TestContextCancel(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := e.DoString(ctx, `while true do end`); err == nil {
		t.Fatal("runaway script was not stopped")
	}
	// The engine stays usable.
	if err := e.DoString(context.Background(), `tabletop.move("A", 1, 0)`); err != nil {
		t.Fatal(err)
	}
}

func TestDoFile(t *testing.T) {
	e, sess, _ := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "edit.lua")
	if err := os.WriteFile(path, []byte(`tabletop.rotate({"B"}, 90, 5, 5)`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := e.DoFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if b, _ := sess.Scene().Get("B"); b.Angle != 90 {
		t.Errorf("B angle = %v", b.Angle)
	}
}

func TestClosed(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Close()
	e.Close()
	if err := e.DoString(context.Background(), `x = 1`); !errors.Is(err, ErrClosed) {
		t.Errorf("DoString after Close = %v", err)
	}
}
