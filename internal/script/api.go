package script

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/tabletop/internal/engine/geom"
	"github.com/dshills/tabletop/internal/engine/operation"
	"github.com/dshills/tabletop/internal/engine/scene"
)

func (e *Engine) newAPI() *lua.LTable {
	return e.L.SetFuncs(e.L.NewTable(), map[string]lua.LGFunction{
		"move":        e.luaMove,
		"rotate":      e.luaRotate,
		"resize":      e.luaResize,
		"to_floor":    e.luaToFloor,
		"to_layer":    e.luaToLayer,
		"add":         e.luaAdd,
		"remove":      e.luaRemove,
		"undo":        e.luaUndo,
		"redo":        e.luaRedo,
		"can_undo":    e.luaCanUndo,
		"can_redo":    e.luaCanRedo,
		"clear":       e.luaClear,
		"shape":       e.luaShape,
		"shapes":      e.luaShapes,
		"draw_begin":  e.luaDrawBegin,
		"draw_to":     e.luaDrawTo,
		"draw_finish": e.luaDrawFinish,
		"flush":       e.luaFlush,
	})
}

// check raises err as a Lua error.
func check(L *lua.LState, err error) {
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
}

// checkIDs accepts either a single id or an array of ids at argument n.
func checkIDs(L *lua.LState, n int) []string {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return []string{string(v)}
	case *lua.LTable:
		ids := make([]string, 0, v.Len())
		for i := 1; i <= v.Len(); i++ {
			s, ok := v.RawGetInt(i).(lua.LString)
			if !ok {
				L.ArgError(n, "shape ids must be strings")
			}
			ids = append(ids, string(s))
		}
		return ids
	default:
		L.ArgError(n, "expected a shape id or a list of ids")
		return nil
	}
}

func checkPoint(L *lua.LState, n int) geom.Point {
	return geom.Pt(float64(L.CheckNumber(n)), float64(L.CheckNumber(n+1)))
}

func (e *Engine) luaMove(L *lua.LState) int {
	ids := checkIDs(L, 1)
	delta := geom.Vector{X: float64(L.CheckNumber(2)), Y: float64(L.CheckNumber(3))}
	check(L, e.sess.MoveShapes(e.ctx, ids, delta))
	return 0
}

func (e *Engine) luaRotate(L *lua.LState) int {
	ids := checkIDs(L, 1)
	angle := float64(L.CheckNumber(2))
	center := checkPoint(L, 3)
	check(L, e.sess.RotateShapes(e.ctx, ids, angle, center))
	return 0
}

func (e *Engine) luaResize(L *lua.LState) int {
	id := L.CheckString(1)
	handle := L.CheckInt(2)
	target := checkPoint(L, 3)
	retain := L.OptBool(5, false)
	check(L, e.sess.ResizeShape(e.ctx, id, handle, target, retain))
	return 0
}

func (e *Engine) luaToFloor(L *lua.LState) int {
	ids := checkIDs(L, 1)
	check(L, e.sess.MoveShapesToFloor(e.ctx, ids, L.CheckInt(2)))
	return 0
}

func (e *Engine) luaToLayer(L *lua.LState) int {
	ids := checkIDs(L, 1)
	check(L, e.sess.MoveShapesToLayer(e.ctx, ids, L.CheckString(2)))
	return 0
}

func (e *Engine) luaAdd(L *lua.LState) int {
	snap := e.checkSnapshot(L, 1)
	sh, err := e.sess.AddShape(e.ctx, snap)
	check(L, err)
	L.Push(lua.LString(sh.ID))
	return 1
}

func (e *Engine) luaRemove(L *lua.LState) int {
	check(L, e.sess.RemoveShapes(e.ctx, checkIDs(L, 1)))
	return 0
}

func (e *Engine) luaUndo(L *lua.LState) int {
	did := e.sess.History().CanUndo()
	check(L, e.sess.Undo(e.ctx))
	L.Push(lua.LBool(did))
	return 1
}

func (e *Engine) luaRedo(L *lua.LState) int {
	did := e.sess.History().CanRedo()
	check(L, e.sess.Redo(e.ctx))
	L.Push(lua.LBool(did))
	return 1
}

func (e *Engine) luaCanUndo(L *lua.LState) int {
	L.Push(lua.LBool(e.sess.History().CanUndo()))
	return 1
}

func (e *Engine) luaCanRedo(L *lua.LState) int {
	L.Push(lua.LBool(e.sess.History().CanRedo()))
	return 1
}

func (e *Engine) luaClear(L *lua.LState) int {
	e.sess.Clear()
	return 0
}

func (e *Engine) luaShape(L *lua.LState) int {
	sh, ok := e.sess.Scene().Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(shapeTable(L, sh))
	return 1
}

func (e *Engine) luaShapes(L *lua.LState) int {
	t := L.NewTable()
	for _, sh := range e.sess.Scene().Shapes() {
		t.Append(lua.LString(sh.ID))
	}
	L.Push(t)
	return 1
}

func (e *Engine) luaDrawBegin(L *lua.LState) int {
	sh, err := e.sess.BeginDraw(e.ctx, e.checkSnapshot(L, 1))
	check(L, err)
	L.Push(lua.LString(sh.ID))
	return 1
}

func (e *Engine) luaDrawTo(L *lua.LState) int {
	check(L, e.sess.DrawTo(e.ctx, checkPoint(L, 1)))
	return 0
}

func (e *Engine) luaDrawFinish(L *lua.LState) int {
	_, err := e.sess.FinishDraw(e.ctx, checkPoint(L, 1))
	check(L, err)
	return 0
}

func (e *Engine) luaFlush(L *lua.LState) int {
	check(L, e.sess.Flush(e.ctx))
	return 0
}

// checkSnapshot converts the table at argument n into a shape snapshot,
// generating a uuid when the table has none.
func (e *Engine) checkSnapshot(L *lua.LState, n int) operation.Snapshot {
	t := L.CheckTable(n)
	doc, ok := toGo(t).(map[string]any)
	if !ok {
		L.ArgError(n, "shape must be a table with named fields")
	}
	if id, _ := doc["uuid"].(string); id == "" {
		doc["uuid"] = e.sess.Scene().NewID()
	}
	data, err := json.Marshal(doc)
	check(L, err)
	snap, err := operation.NewSnapshot(data)
	check(L, err)
	return snap
}

// toGo converts a Lua value into plain Go values. Tables with keys 1..n
// become slices; other tables become maps keyed by the string form of
// their keys.
func toGo(v lua.LValue) any {
	return toGoVisited(v, make(map[*lua.LTable]bool))
}

func toGoVisited(v lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)

		if n := v.Len(); n > 0 && v.MaxN() == n {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, toGoVisited(v.RawGetInt(i), visited))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			m[k.String()] = toGoVisited(val, visited)
		})
		return m
	default:
		return nil
	}
}

func shapeTable(L *lua.LState, sh scene.Shape) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("uuid", lua.LString(sh.ID))
	t.RawSetString("type_", lua.LString(sh.Type))
	t.RawSetString("x", lua.LNumber(sh.Ref.X))
	t.RawSetString("y", lua.LNumber(sh.Ref.Y))
	t.RawSetString("angle", lua.LNumber(sh.Angle))
	t.RawSetString("floor", lua.LNumber(sh.Floor))
	t.RawSetString("layer", lua.LString(sh.Layer))
	if sh.Type == scene.TypeCircle {
		t.RawSetString("radius", lua.LNumber(sh.Radius))
	} else {
		t.RawSetString("width", lua.LNumber(sh.Width))
		t.RawSetString("height", lua.LNumber(sh.Height))
	}
	return t
}
