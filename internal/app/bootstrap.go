package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dshills/tabletop/internal/config"
	"github.com/dshills/tabletop/internal/logging"
	"github.com/dshills/tabletop/internal/metrics"
	"github.com/dshills/tabletop/internal/script"
	"github.com/dshills/tabletop/internal/session"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 6),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []func() error{
		b.initConfig,
		b.initLogging,
		b.initMetrics,
		b.initSession,
		b.initScene,
		b.initScript,
		b.initWatcher,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.cleanup()
			return err
		}
	}
	b.app.logger.Info("started session %q (max_entries=%d, dangling_policy=%s)",
		b.app.session.Name(), b.app.config.History.MaxEntries, b.app.config.Policy())
	return nil
}

func (b *bootstrapper) initConfig() error {
	cfg, err := config.Load(b.opts.ConfigPath)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if b.opts.ScenePath != "" {
		cfg.Session.Scene = b.opts.ScenePath
	}
	if b.opts.LogLevel != "" {
		cfg.Logging.Level = b.opts.LogLevel
	}
	b.app.config = cfg
	return nil
}

func (b *bootstrapper) initLogging() error {
	out := b.opts.LogOutput
	lc := b.app.config.Logging
	if out == nil && lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0o755); err != nil {
			return &InitError{Component: "logging", Err: err}
		}
		rot := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   lc.Compress,
		}
		b.app.logFile = rot
		b.initOrder = append(b.initOrder, "logfile")
		out = rot
	}
	if out == nil {
		out = os.Stderr
	}
	b.app.logger = logging.New(logging.Config{
		Level:  logging.ParseLevel(b.app.config.Logging.Level),
		Output: out,
	})
	return nil
}

func (b *bootstrapper) initMetrics() error {
	if !b.app.config.Metrics.Enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	b.app.registry = reg
	b.app.metrics = metrics.New(reg)
	return nil
}

func (b *bootstrapper) initSession() error {
	cfg := b.app.config
	sess, err := session.New(session.Config{
		Name:           cfg.Session.Name,
		MaxUndo:        cfg.History.MaxEntries,
		DanglingPolicy: cfg.Policy(),
	},
		session.WithLogger(b.app.logger),
		session.WithMetrics(b.app.metrics),
		session.WithPeers(b.opts.Peers...),
	)
	if err != nil {
		return &InitError{Component: "session", Err: err}
	}
	b.app.session = sess
	b.initOrder = append(b.initOrder, "session")
	return nil
}

func (b *bootstrapper) initScene() error {
	path := b.app.config.Session.Scene
	if path == "" {
		return nil
	}
	if err := b.app.LoadScene(context.Background(), path); err != nil {
		return &InitError{Component: "scene", Err: err}
	}
	return nil
}

func (b *bootstrapper) initScript() error {
	b.app.script = script.New(b.app.session, script.WithLogger(b.app.logger))
	b.initOrder = append(b.initOrder, "script")
	return nil
}

func (b *bootstrapper) initWatcher() error {
	if !b.opts.Watch || b.opts.ConfigPath == "" {
		return nil
	}
	w, err := config.Watch(b.opts.ConfigPath, config.WithWatchLogger(b.app.logger))
	if err != nil {
		return &InitError{Component: "config watcher", Err: err}
	}
	w.OnChange(b.app.applyConfig)
	b.app.watcher = w
	b.initOrder = append(b.initOrder, "watcher")
	return nil
}

// cleanup tears components down in reverse initialization order.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		switch b.initOrder[i] {
		case "watcher":
			_ = b.app.watcher.Close()
			b.app.watcher = nil
		case "script":
			b.app.script.Close()
			b.app.script = nil
		case "session":
			_ = b.app.session.Close()
			b.app.session = nil
		case "logfile":
			_ = b.app.logFile.Close()
			b.app.logFile = nil
		}
	}
}
