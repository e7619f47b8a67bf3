package completion

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the task document and delivers the freshly parsed set
// of completed task IDs on Updates whenever the document changes. The
// coordinator subscribes by reading the channel; there is no callback.
type Watcher struct {
	docPath string
	watcher *fsnotify.Watcher
	updates chan map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Watch starts watching the task document. The parent directory is
// watched rather than the file itself, so a document that does not exist
// yet is picked up when it appears. The document is parsed once
// immediately after the watch is registered, closing the gap between
// setup and the first filesystem event.
func Watch(docPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	dir := filepath.Dir(docPath)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		docPath: docPath,
		watcher: fw,
		updates: make(chan map[string]bool, 16),
		stopCh:  make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

// Updates returns the channel of parsed completion sets. The channel is
// closed when the watcher stops.
func (w *Watcher) Updates() <-chan map[string]bool {
	return w.updates
}

// Stop shuts the watcher down and closes the Updates channel. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.updates)

	// Initial parse so a document completed before the watch started is
	// not missed.
	last := w.parse()
	w.send(last)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.docPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			set := w.parse()
			if setsEqual(set, last) {
				continue
			}
			last = set
			w.send(set)

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are transient (e.g. editor rename dances);
			// the next event re-parses from scratch.
		}
	}
}

// parse reads and parses the document; a missing document is the empty set.
func (w *Watcher) parse() map[string]bool {
	data, err := os.ReadFile(w.docPath)
	if err != nil {
		return map[string]bool{}
	}
	return ParseDocument(string(data))
}

// send delivers a set without blocking: if the subscriber lags, the
// oldest buffered set is dropped in favor of the newest.
func (w *Watcher) send(set map[string]bool) {
	select {
	case w.updates <- set:
	default:
		select {
		case <-w.updates:
		default:
		}
		select {
		case w.updates <- set:
		default:
		}
	}
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}
