// Package control delivers out-of-band commands to a running orchestrator
// through files dropped into a watched directory.
//
// A file ending in .cancel lists task IDs to cancel, one per line. A file
// named "stop" stops the whole run. Files are consumed once handled.
package control

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/aristath/taskforge/internal/logging"
)

const (
	cancelSuffix = ".cancel"
	stopFile     = "stop"
	debounce     = 50 * time.Millisecond
)

// Kind identifies a control command.
type Kind int

const (
	// Cancel cancels one task.
	Cancel Kind = iota
	// Stop cancels the whole run.
	Stop
)

func (k Kind) String() string {
	if k == Stop {
		return "stop"
	}
	return "cancel"
}

// Command is one request read from the control directory.
type Command struct {
	Kind   Kind
	TaskID string // empty for Stop
}

// Watcher watches a control directory and hands commands to a handler.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	handler func(Command)
	logger  *logging.Logger

	wg        sync.WaitGroup
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewWatcher creates dir if needed and starts watching it. Call Start to
// begin delivering commands.
func NewWatcher(dir string, handler func(Command), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create control directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		watcher: fw,
		handler: handler,
		logger:  logger.WithComponent("control"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start handles files already present, then watches for new ones until ctx
// is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	if entries, err := os.ReadDir(w.dir); err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, filepath.Join(w.dir, e.Name()))
			}
		}
		w.handleFiles(names)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

func (w *Watcher) loop(ctx context.Context) {
	// Writers may emit several events per file; handle them once settled.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(debounce)
		case <-timer.C:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			pending = make(map[string]struct{})
			w.handleFiles(names)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("control watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFiles(paths []string) {
	sort.Strings(paths)
	for _, path := range paths {
		cmds, err := readCommands(path)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("failed to read control file", "file", path, "error", err)
			}
			continue
		}
		if cmds == nil {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to consume control file", "file", path, "error", err)
		}
		for _, cmd := range cmds {
			w.logger.Info("control command received", "kind", cmd.Kind.String(), "task_id", cmd.TaskID)
			w.handler(cmd)
		}
	}
}

// readCommands parses a control file. It returns nil for files that are
// not control files.
func readCommands(path string) ([]Command, error) {
	base := filepath.Base(path)
	switch {
	case base == stopFile:
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return []Command{{Kind: Stop}}, nil
	case strings.HasSuffix(base, cancelSuffix):
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cmds := []Command{}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if id := strings.TrimSpace(scanner.Text()); id != "" {
				cmds = append(cmds, Command{Kind: Cancel, TaskID: id})
			}
		}
		return cmds, scanner.Err()
	default:
		return nil, nil
	}
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

// RequestCancel asks the orchestrator watching dir to cancel taskIDs. The
// file is written under a temporary name and renamed so the watcher never
// sees a partial list.
func RequestCancel(dir string, taskIDs ...string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	return writeAtomic(dir, uuid.New().String()+cancelSuffix, strings.Join(taskIDs, "\n")+"\n")
}

// RequestStop asks the orchestrator watching dir to stop the run.
func RequestStop(dir string) error {
	return writeAtomic(dir, stopFile, "")
}

func writeAtomic(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}
	tmp := filepath.Join(dir, "."+uuid.New().String()+".tmp")
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write control file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish control file: %w", err)
	}
	return nil
}
