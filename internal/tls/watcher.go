package tls

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 100 * time.Millisecond

// ArtifactWatcher follows the artifact files of a directory and reports the
// bundle state whenever one of them changes. It only observes. The gateway
// does not run one; a running gateway picks up changes on its next start.
type ArtifactWatcher struct {
	dir      string
	logger   *TLSLogger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}

	mu          sync.Mutex
	state       BundleState
	subscribers []chan BundleState
}

// NewArtifactWatcher starts watching dir. The directory must exist.
func NewArtifactWatcher(dir string, logger *TLSLogger) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = NewTLSLogger(nil)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact directory: %w", err)
	}

	present, err := ProbeDir(absDir)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(absDir); err != nil {
		_ = watcher.Close()
		return nil, NewStorageReadError(absDir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &ArtifactWatcher{
		dir:      absDir,
		logger:   logger,
		debounce: defaultWatchDebounce,
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    DetectState(present),
	}
	go w.watchLoop(ctx)
	return w, nil
}

// State returns the most recently observed bundle state.
func (w *ArtifactWatcher) State() BundleState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe returns a channel that receives the current state and then every
// state change. A slow reader only sees the latest state.
func (w *ArtifactWatcher) Subscribe() <-chan BundleState {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan BundleState, 1)
	ch <- w.state
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *ArtifactWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *ArtifactWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isArtifactName(filepath.Base(event.Name)) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil {
					w.refresh(ctx)
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.LogArtifactDrift(ctx, w.dir, w.State(), err)
		}
	}
}

func (w *ArtifactWatcher) refresh(ctx context.Context) {
	present, err := ProbeDir(w.dir)
	if err != nil {
		w.logger.LogArtifactDrift(ctx, w.dir, w.State(), err)
		return
	}
	state := DetectState(present)

	w.mu.Lock()
	if state == w.state {
		w.mu.Unlock()
		return
	}
	w.state = state
	subscribers := slices.Clone(w.subscribers)
	w.mu.Unlock()

	w.logger.LogArtifactDrift(ctx, w.dir, state, nil)
	for _, ch := range subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}

func isArtifactName(name string) bool {
	for _, f := range Artifacts() {
		if f.Name() == name {
			return true
		}
	}
	return false
}
