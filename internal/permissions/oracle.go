// Package permissions implements the daemon's peer-credential allow list:
// given a connecting peer's uid, answer whether the rendezvous Listener may
// admit the session. The backing file is a flat, line-oriented allow list
// refreshed at startup and, optionally, on every write via fsnotify -- the
// daemon never trusts anything the peer claims about its own identity, only
// what this oracle says about the kernel-verified uid.
package permissions

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrNotInitialized is returned by Allow before the first successful Load.
var ErrNotInitialized = errors.New("permissions: oracle not initialized")

// wildcard, written alone on a line, allows every uid to connect. Used by
// test fixtures and single-tenant nodes that rely entirely on filesystem
// permissions on the rendezvous socket.
const wildcard = "*"

// Oracle answers allow/deny for a connecting peer's uid, backed by a flat
// file of one decimal uid per line ('#'-prefixed lines and blank lines are
// ignored). Safe for concurrent use: Allow may run on the Listener goroutine
// while Load runs from a SIGHUP handler or an fsnotify watch goroutine.
type Oracle struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	allowed  map[uint32]struct{}
	allowAll bool
	loaded   bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New constructs an Oracle reading uids from path. Call Load before Allow
// is consulted; Load failing is fatal to daemon startup per the design.
func New(path string, log *slog.Logger) *Oracle {
	if log == nil {
		log = slog.Default()
	}
	return &Oracle{path: path, log: log}
}

// Load reads and parses the backing file, replacing the current allow set
// atomically. Returns an error if the file cannot be read or contains a
// malformed entry.
func (o *Oracle) Load() error {
	f, err := os.Open(o.path)
	if err != nil {
		return fmt.Errorf("open permissions file %s: %w", o.path, err)
	}
	defer f.Close()

	allowed := make(map[uint32]struct{})
	allowAll := false

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if text == wildcard {
			allowAll = true
			continue
		}
		uid, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return fmt.Errorf("permissions file %s line %d: %q is not a uid: %w", o.path, line, text, err)
		}
		allowed[uint32(uid)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read permissions file %s: %w", o.path, err)
	}

	o.mu.Lock()
	o.allowed = allowed
	o.allowAll = allowAll
	o.loaded = true
	o.mu.Unlock()

	o.log.Info("permissions file loaded",
		slog.String("path", o.path),
		slog.Int("uids", len(allowed)),
		slog.Bool("allow_all", allowAll),
	)
	return nil
}

// Allow reports whether uid may open a session. Returns ErrNotInitialized
// if Load has never succeeded.
func (o *Oracle) Allow(uid uint32) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.loaded {
		return false, ErrNotInitialized
	}
	if o.allowAll {
		return true, nil
	}
	_, ok := o.allowed[uid]
	return ok, nil
}

// WatchReload starts an fsnotify watch on the backing file's directory and
// calls Load whenever the file is written or replaced (editors commonly
// rename-over-write). Errors from individual reloads are logged, not
// returned: a bad edit should not tear down an otherwise healthy daemon.
// Stop ends the watch.
func (o *Oracle) WatchReload() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create permissions watcher: %w", err)
	}

	dir := dirOf(o.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	o.watcher = w
	o.done = make(chan struct{})

	go o.watchLoop()
	return nil
}

func (o *Oracle) watchLoop() {
	for {
		select {
		case ev, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != o.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := o.Load(); err != nil {
				o.log.Warn("permissions file reload failed, keeping previous allow list",
					slog.String("error", err.Error()))
			}
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.log.Warn("permissions watcher error", slog.String("error", err.Error()))
		case <-o.done:
			return
		}
	}
}

// Stop ends a watch started by WatchReload. Safe to call if WatchReload was
// never called.
func (o *Oracle) Stop() {
	if o.watcher == nil {
		return
	}
	close(o.done)
	o.watcher.Close()
}

// dirOf returns the parent directory of path, or "." if path has none.
func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	if i == 0 {
		return "/"
	}
	return path[:i]
}
