package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Tools []Tool `yaml:"tools"`
}

// LoadFile reads a YAML tool list of the form:
//
//	tools:
//	  - name: web_search
//	    description: Search the web
//	    parameters:
//	      query: {type: string, required: true}
func LoadFile(path string) ([]Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool registry: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tool registry %s: %w", path, err)
	}
	if len(f.Tools) == 0 {
		return nil, fmt.Errorf("tool registry %s defines no tools", path)
	}
	return f.Tools, nil
}

// Watcher reloads a registry whenever its backing file changes. A reload
// that fails validation keeps the previous tool set.
type Watcher struct {
	registry *Registry
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	done     chan struct{}
}

// NewWatcher watches the directory containing path so editor-style
// rename-and-replace writes are picked up too.
func NewWatcher(reg *Registry, path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		registry: reg,
		path:     abs,
		watcher:  fw,
		logger:   logger.With(zap.String("component", "tool-registry")),
		done:     make(chan struct{}),
	}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

// Done is closed once Run returns.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) reload() {
	tools, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("Tool registry reload failed, keeping previous set", zap.Error(err))
		return
	}
	if err := w.registry.Replace(tools); err != nil {
		w.logger.Warn("Tool registry rejected", zap.Error(err))
		return
	}
	w.logger.Info("Tool registry reloaded", zap.String("file", w.path), zap.Strings("tools", w.registry.Names()))
}
