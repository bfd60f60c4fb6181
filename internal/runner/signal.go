package runner

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrStopRequested halts the loop between steps. It is a clean shutdown,
// not a failure.
var ErrStopRequested = errors.New("stop requested")

// StopSignal is checked at step and story boundaries. In-flight assistant
// calls are never interrupted.
type StopSignal interface {
	Requested() bool
}

// FileSignal signals stop through a sentinel file, so an operator can halt
// a running loop from another terminal.
type FileSignal struct {
	path string
}

// NewFileSignal creates a signal backed by the given sentinel path.
func NewFileSignal(path string) *FileSignal {
	return &FileSignal{path: path}
}

// Requested reports whether the sentinel file exists.
func (s *FileSignal) Requested() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Request creates the sentinel file.
func (s *FileSignal) Request() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte("stop\n"), 0644)
}

// Clear removes the sentinel so the next run starts unsignalled.
func (s *FileSignal) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Path returns the sentinel file location.
func (s *FileSignal) Path() string {
	return s.path
}

// StopWatcher notifies a channel as soon as the sentinel file appears,
// so the TUI can show the pending stop before the next boundary check.
type StopWatcher struct {
	watcher *fsnotify.Watcher
	signal  *FileSignal
	notify  chan struct{}
	done    chan struct{}
	logger  *zap.Logger
}

// NewStopWatcher starts watching the sentinel's directory.
func NewStopWatcher(signal *FileSignal, logger *zap.Logger) (*StopWatcher, error) {
	dir := filepath.Dir(signal.Path())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	sw := &StopWatcher{
		watcher: w,
		signal:  signal,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go sw.loop()
	return sw, nil
}

// Notify returns the channel that fires when a stop is requested.
func (sw *StopWatcher) Notify() <-chan struct{} {
	return sw.notify
}

// Close stops watching.
func (sw *StopWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}

func (sw *StopWatcher) loop() {
	for {
		select {
		case <-sw.done:
			return
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != sw.signal.Path() {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			sw.logger.Info("stop signal observed", zap.String("path", ev.Name))
			select {
			case sw.notify <- struct{}{}:
			default:
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("stop watcher error", zap.Error(err))
		}
	}
}
