// Package app wires the tabletop components together: configuration,
// logging, metrics, the editing session, the script engine and the config
// watcher.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dshills/tabletop/internal/config"
	"github.com/dshills/tabletop/internal/engine/scene"
	"github.com/dshills/tabletop/internal/logging"
	"github.com/dshills/tabletop/internal/metrics"
	"github.com/dshills/tabletop/internal/script"
	"github.com/dshills/tabletop/internal/session"
)

// Application owns every long-lived component.
type Application struct {
	mu sync.RWMutex

	config   *config.Config
	logger   *logging.Logger
	logFile  *lumberjack.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	session *session.Session
	script  *script.Engine
	watcher *config.Watcher

	closed atomic.Bool
	opts   Options
}

// Options configures the application.
type Options struct {
	// ConfigPath is a TOML or YAML config file. Optional.
	ConfigPath string

	// ScenePath overrides the scene document named in the config.
	ScenePath string

	// LogLevel overrides the configured log level when set.
	LogLevel string

	// LogOutput receives log output. Defaults to the configured log file,
	// or os.Stderr when none is set.
	LogOutput io.Writer

	// Watch reloads the config file when it changes.
	Watch bool

	// Peers receive flushed scene messages.
	Peers []session.Peer
}

// New creates and bootstraps an Application.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}
	if err := newBootstrapper(app, opts).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Config returns the active configuration.
func (app *Application) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// Session returns the editing session.
func (app *Application) Session() *session.Session {
	return app.session
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (app *Application) Registry() *prometheus.Registry {
	return app.registry
}

// RunScript runs a Lua edit script from path against the session.
func (app *Application) RunScript(ctx context.Context, path string) error {
	if app.closed.Load() {
		return ErrClosed
	}
	if err := app.script.DoFile(ctx, path); err != nil {
		return &OperationError{Op: "run script", Target: path, Err: err}
	}
	return nil
}

// RunString runs a Lua chunk against the session.
func (app *Application) RunString(ctx context.Context, code string) error {
	if app.closed.Load() {
		return ErrClosed
	}
	if err := app.script.DoString(ctx, code); err != nil {
		return &OperationError{Op: "run script", Target: "<string>", Err: err}
	}
	return nil
}

// LoadScene replaces the session's scene with the document at path.
func (app *Application) LoadScene(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &OperationError{Op: "load scene", Target: path, Err: err}
	}
	defer f.Close()

	doc, err := scene.DecodeDocument(f)
	if err != nil {
		return &OperationError{Op: "load scene", Target: path, Err: err}
	}
	if err := app.session.Load(ctx, doc); err != nil {
		return &OperationError{Op: "load scene", Target: path, Err: err}
	}
	return nil
}

// applyConfig pushes the live-reloadable settings into the running
// components. The session name and metrics switch take effect on restart.
func (app *Application) applyConfig(cfg *config.Config) {
	app.mu.Lock()
	app.config = cfg
	app.mu.Unlock()

	if app.opts.LogLevel == "" {
		app.logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	}
	app.session.SetMaxUndo(cfg.History.MaxEntries)
	app.session.SetDanglingPolicy(cfg.Policy())
	app.logger.Info("applied config: max_entries=%d dangling_policy=%s", cfg.History.MaxEntries, cfg.Policy())
}

// Shutdown releases every component. It is safe to call more than once.
func (app *Application) Shutdown() {
	if !app.closed.CompareAndSwap(false, true) {
		return
	}
	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			app.logger.Warn("closing config watcher: %v", err)
		}
	}
	if app.script != nil {
		app.script.Close()
	}
	if app.session != nil {
		_ = app.session.Close()
	}
	app.logger.Debug("shutdown complete")
	if app.logFile != nil {
		_ = app.logFile.Close()
	}
}

// Report summarizes the session state.
type Report struct {
	Session string          `json:"session"`
	Shapes  []ShapeReport   `json:"shapes"`
	Undo    int             `json:"undo"`
	Redo    int             `json:"redo"`
	Pending []scene.Message `json:"pending"`
}

// ShapeReport is one shape in a Report.
type ShapeReport struct {
	ID     string  `json:"uuid"`
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`
	Angle  float64 `json:"angle"`
	Floor  int     `json:"floor"`
	Layer  string  `json:"layer"`
}

// Report returns the current session state.
func (app *Application) Report() Report {
	sess := app.session
	r := Report{
		Session: sess.Name(),
		Undo:    sess.History().UndoCount(),
		Redo:    sess.History().RedoCount(),
		Pending: sess.Outbox().Pending(),
	}
	for _, sh := range sess.Scene().Shapes() {
		r.Shapes = append(r.Shapes, ShapeReport{
			ID:     sh.ID,
			Type:   sh.Type,
			X:      sh.Ref.X,
			Y:      sh.Ref.Y,
			Width:  sh.Width,
			Height: sh.Height,
			Radius: sh.Radius,
			Angle:  sh.Angle,
			Floor:  sh.Floor,
			Layer:  sh.Layer,
		})
	}
	return r
}

func (app *Application) String() string {
	return fmt.Sprintf("tabletop session %q", app.session.Name())
}
