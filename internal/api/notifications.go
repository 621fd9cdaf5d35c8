package api

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopSignal is the file name that asks a running research to wrap up.
const StopSignal = "stop"

// NotificationManager watches the .delve/signals directory for a stop request
// issued by another process (`delve stop`).
type NotificationManager struct {
	signalsDir string

	mu         sync.RWMutex
	stopSignal bool
	stopped    chan struct{}
	stopOnce   sync.Once

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// SignalsDir returns the signals directory for a working directory.
func SignalsDir(workDir string) string {
	return filepath.Join(workDir, ".delve", "signals")
}

// NewNotificationManager creates the signals directory under workDir and
// starts watching it.
func NewNotificationManager(workDir string) (*NotificationManager, error) {
	signalsDir := SignalsDir(workDir)
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	nm := &NotificationManager{
		signalsDir: signalsDir,
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - ShouldStop still polls the file
		return nm, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		return nm, nil
	}
	nm.watcher = watcher

	nm.wg.Add(1)
	go nm.watchSignals()

	return nm, nil
}

func (nm *NotificationManager) watchSignals() {
	defer nm.wg.Done()
	for {
		select {
		case <-nm.done:
			return
		case event, ok := <-nm.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == StopSignal && (event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				nm.markStopped()
			}
		case _, ok := <-nm.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (nm *NotificationManager) markStopped() {
	nm.mu.Lock()
	nm.stopSignal = true
	nm.mu.Unlock()
	nm.stopOnce.Do(func() { close(nm.stopped) })
}

// ShouldStop returns true if a stop signal has been received.
func (nm *NotificationManager) ShouldStop() bool {
	// Also check the file directly in case the watcher missed it
	if _, err := os.Stat(filepath.Join(nm.signalsDir, StopSignal)); err == nil {
		nm.markStopped()
	}

	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.stopSignal
}

// Stopped is closed once a stop signal has been observed.
func (nm *NotificationManager) Stopped() <-chan struct{} {
	return nm.stopped
}

// SendStop creates the stop signal file.
func (nm *NotificationManager) SendStop() error {
	return SendStop(filepath.Dir(filepath.Dir(nm.signalsDir)))
}

// SendStop writes the stop signal for the research running in workDir.
func SendStop(workDir string) error {
	dir := SignalsDir(workDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, StopSignal), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes the stop file. A stop already observed stays observed.
func (nm *NotificationManager) ClearSignals() {
	os.Remove(filepath.Join(nm.signalsDir, StopSignal))
}

// Close shuts down the watcher goroutine and waits for it to exit.
func (nm *NotificationManager) Close() {
	nm.closeOnce.Do(func() {
		close(nm.done)
		if nm.watcher != nil {
			nm.watcher.Close()
		}
		nm.wg.Wait()
	})
}
