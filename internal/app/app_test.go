package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/tabletop/internal/engine/replay"
	"github.com/dshills/tabletop/internal/engine/scene"
	"github.com/dshills/tabletop/internal/session"
)

const testScene = `
floors:
  - id: 0
    name: main
    layers: [map, tokens]
shapes:
  - uuid: A
    type: rect
    width: 2
    height: 2
    floor: 0
    layer: tokens
  - uuid: B
    type: circle
    x: 5
    y: 5
    radius: 1
    floor: 0
    layer: tokens
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T, configDoc string, opts Options) (*Application, string) {
	t.Helper()
	dir := t.TempDir()
	scenePath := writeFile(t, dir, "scene.yaml", testScene)
	if configDoc != "" {
		opts.ConfigPath = writeFile(t, dir, "tabletop.toml", configDoc)
	}
	opts.ScenePath = scenePath
	if opts.LogOutput == nil {
		opts.LogOutput = &bytes.Buffer{}
	}

	a, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Shutdown)
	return a, dir
}

func TestNewLoadsConfigAndScene(t *testing.T) {
	a, _ := newTestApp(t, "[session]\nname = \"keep\"\n[history]\nmax_entries = 3\n", Options{})

	r := a.Report()
	if r.Session != "keep" {
		t.Errorf("Session = %q", r.Session)
	}
	if len(r.Shapes) != 2 || r.Shapes[0].ID != "A" || r.Shapes[1].Radius != 1 {
		t.Errorf("Shapes = %+v", r.Shapes)
	}
	if got := a.Session().History().MaxEntries(); got != 3 {
		t.Errorf("MaxEntries = %d, want 3", got)
	}
}

func TestRunStringRecordsHistory(t *testing.T) {
	a, _ := newTestApp(t, "", Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.RunString(ctx, `tabletop.move("A", 1, 0)`); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.RunString(ctx, `tabletop.undo()`); err != nil {
		t.Fatal(err)
	}

	r := a.Report()
	if r.Undo != 2 || r.Redo != 1 {
		t.Errorf("undo=%d redo=%d", r.Undo, r.Redo)
	}
	if r.Shapes[0].X != 2 {
		t.Errorf("A.x = %v, want 2", r.Shapes[0].X)
	}
	if len(r.Pending) != 4 {
		t.Errorf("pending messages = %d, want 4", len(r.Pending))
	}
}

func TestRunScriptError(t *testing.T) {
	a, dir := newTestApp(t, "", Options{})
	path := writeFile(t, dir, "bad.lua", `tabletop.move("nope", 1, 1)`)

	err := a.RunScript(context.Background(), path)
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Target != path {
		t.Fatalf("RunScript() = %v", err)
	}
	if !errors.Is(err, opErr.Err) {
		t.Error("OperationError does not unwrap")
	}
}

func TestFlushToPeers(t *testing.T) {
	var got []string
	peer := session.PeerFunc(func(_ context.Context, msg scene.Message) error {
		got = append(got, msg.Topic)
		return nil
	})
	a, _ := newTestApp(t, "", Options{Peers: []session.Peer{peer}})
	ctx := context.Background()

	if err := a.RunString(ctx, `tabletop.move("A", 1, 0); tabletop.flush()`); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != scene.TopicPositionUpdate {
		t.Errorf("peer got %v", got)
	}
}

func TestMetricsEnabled(t *testing.T) {
	a, _ := newTestApp(t, "[metrics]\nenabled = true\n", Options{})
	if err := a.RunString(context.Background(), `tabletop.move("A", 1, 0)`); err != nil {
		t.Fatal(err)
	}

	families, err := a.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "tabletop_history_records_total" {
			found = true
		}
	}
	if !found {
		t.Error("history metrics not registered")
	}
}

func TestMetricsDisabled(t *testing.T) {
	a, _ := newTestApp(t, "", Options{})
	if a.Registry() != nil {
		t.Error("registry created with metrics disabled")
	}
}

func TestInitErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"missing scene", Options{ScenePath: filepath.Join(dir, "absent.yaml")}, "scene"},
		{"bad config", Options{ConfigPath: writeFile(t, dir, "bad.toml", "[history]\nmax_entries = -2\n")}, "config"},
		{"bad scene", Options{ScenePath: writeFile(t, dir, "bad.yaml", "floors: 3\n")}, "scene"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.LogOutput = &bytes.Buffer{}
			_, err := New(tt.opts)
			var initErr *InitError
			if !errors.As(err, &initErr) {
				t.Fatalf("New() = %v, want InitError", err)
			}
			if initErr.Component != tt.want {
				t.Errorf("Component = %q, want %q", initErr.Component, tt.want)
			}
		})
	}
}

func TestConfigReload(t *testing.T) {
	a, _ := newTestApp(t, "[history]\nmax_entries = 10\n", Options{Watch: true})

	path := a.opts.ConfigPath
	if err := os.WriteFile(path, []byte("[history]\nmax_entries = 4\n[replay]\ndangling_policy = \"abort\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for a.Session().History().MaxEntries() != 4 {
		if time.Now().After(deadline) {
			t.Fatal("config change not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if a.Config().Policy() != replay.PolicyAbort {
		t.Errorf("Policy = %v, want abort", a.Config().Policy())
	}
}

func TestShutdown(t *testing.T) {
	a, _ := newTestApp(t, "", Options{})
	a.Shutdown()
	a.Shutdown()
	if err := a.RunString(context.Background(), `x = 1`); !errors.Is(err, ErrClosed) {
		t.Errorf("RunString after Shutdown = %v", err)
	}
	if !strings.Contains(a.String(), "local") {
		t.Errorf("String() = %q", a.String())
	}
}

func TestLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "tabletop.log")
	cfg := writeFile(t, dir, "tabletop.yaml", "logging:\n  file: "+logPath+"\n  level: debug\n")

	a, err := New(Options{ConfigPath: cfg})
	if err != nil {
		t.Fatal(err)
	}
	a.Shutdown()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "started session") {
		t.Errorf("log file = %q", data)
	}
}
