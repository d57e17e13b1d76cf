// Package gtfs owns the lifecycle of the current derived store: loading
// feeds through the cache, publishing the resulting store handle to the
// query side, and swapping it atomically when a new feed lands.
package gtfs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"transitlens.dev/gtfsdb"
	"transitlens.dev/internal/extract"
	"transitlens.dev/internal/feedcache"
	"transitlens.dev/internal/logging"
)

// watchDebounce coalesces the burst of filesystem events a feed download
// produces into one reload.
const watchDebounce = 2 * time.Second

// Config configures the Manager.
type Config struct {
	CacheDir     string
	Thresholds   extract.Thresholds
	QueryTimeout time.Duration
	// WatchSource reloads the feed when the archive file changes on disk.
	WatchSource bool
	Logger      *slog.Logger
}

// ProgressEvent is one step of a running load, tagged with the load's id so
// listeners can tell overlapping loads apart.
type ProgressEvent struct {
	LoadID  string `json:"loadId"`
	Step    string `json:"step"`
	Percent int    `json:"percent"`
	Error   bool   `json:"error,omitempty"`
}

// LoadResult is the boundary response for one load request.
type LoadResult struct {
	Success   bool            `json:"success"`
	FromCache bool            `json:"fromCache"`
	Stats     feedcache.Stats `json:"stats"`
}

// Manager serializes load requests and holds the one current store.
// A second concurrent Load blocks until the first finishes; if both name
// the same unchanged archive the second resolves from cache.
type Manager struct {
	config Config
	logger *slog.Logger
	cache  *feedcache.Manager

	loadMu sync.Mutex

	storeMu sync.RWMutex
	current *gtfsdb.Client

	progressMu sync.RWMutex
	last       *ProgressEvent
	listeners  []func(ProgressEvent)

	watcher      *fsnotify.Watcher
	watchedMu    sync.Mutex
	watchedPath  string
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewManager creates a Manager rooted at the configured cache directory.
func NewManager(config Config) (*Manager, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Thresholds == (extract.Thresholds{}) {
		config.Thresholds = extract.DefaultThresholds()
	}

	cache, err := feedcache.NewManager(config.CacheDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:       config,
		logger:       config.Logger,
		cache:        cache,
		shutdownChan: make(chan struct{}),
	}

	if config.WatchSource {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("starting source watcher: %w", err)
		}
		m.watcher = watcher
		m.wg.Add(1)
		go m.watchLoop()
	}

	return m, nil
}

// Store returns the current store handle, or ErrStoreUnavailable before the
// first successful load.
func (m *Manager) Store() (*gtfsdb.Client, error) {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()
	if m.current == nil {
		return nil, gtfsdb.ErrStoreUnavailable
	}
	return m.current, nil
}

// OnProgress registers a listener for load progress events. Listeners must
// tolerate high call frequency.
func (m *Manager) OnProgress(fn func(ProgressEvent)) {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// LastProgress returns the most recent progress event, if any load ran.
func (m *Manager) LastProgress() *ProgressEvent {
	m.progressMu.RLock()
	defer m.progressMu.RUnlock()
	if m.last == nil {
		return nil
	}
	ev := *m.last
	return &ev
}

func (m *Manager) emit(ev ProgressEvent) {
	m.progressMu.Lock()
	m.last = &ev
	listeners := make([]func(ProgressEvent), len(m.listeners))
	copy(listeners, m.listeners)
	m.progressMu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Load ingests the archive at path, from cache when its fingerprint is
// unchanged, and publishes the resulting store. Loads are serialized: a
// concurrent call blocks here until the running one completes.
func (m *Manager) Load(ctx context.Context, path string) (*LoadResult, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	loadID := uuid.NewString()
	lastPercent := 0
	progress := func(step string, percent int) {
		lastPercent = percent
		m.emit(ProgressEvent{LoadID: loadID, Step: step, Percent: percent})
	}

	result, err := m.load(ctx, path, loadID, progress)
	if err != nil {
		// The failure event keeps the last reported percent so the
		// sequence stays monotonic for listeners.
		m.emit(ProgressEvent{LoadID: loadID, Step: "Error: " + err.Error(), Percent: lastPercent, Error: true})
		return nil, err
	}

	if m.config.WatchSource {
		m.watchPath(path)
	}
	return result, nil
}

func (m *Manager) load(ctx context.Context, path, loadID string, progress extract.ProgressFunc) (*LoadResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving archive path: %w", err)
	}

	src, err := feedcache.SourceInfoFor(abs)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	fingerprint, err := feedcache.Fingerprint(abs)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting archive: %w", err)
	}

	logger := m.logger.With(slog.String("load_id", loadID), slog.String("archive", abs))

	storeOpts := gtfsdb.Options{Logger: m.logger, QueryTimeout: m.config.QueryTimeout}

	if entry, ok := m.cache.Lookup(fingerprint, src); ok {
		client, err := gtfsdb.Open(m.cache.StorePath(fingerprint), storeOpts)
		if err != nil {
			return nil, fmt.Errorf("opening cached store: %w", err)
		}
		m.swap(client)
		progress("Complete", 100)
		logger.Info("feed loaded from cache", slog.String("fingerprint", fingerprint))
		return &LoadResult{Success: true, FromCache: true, Stats: entry.Stats}, nil
	}

	scratch, err := m.cache.ScratchDir()
	if err != nil {
		return nil, err
	}
	defer m.cache.RemoveScratch(scratch)

	builder, err := gtfsdb.Open(filepath.Join(scratch, feedcache.StoreFileName), storeOpts)
	if err != nil {
		return nil, fmt.Errorf("creating derived store: %w", err)
	}

	buildResult, err := builder.Build(ctx, abs, m.config.Thresholds, progress)
	if closeErr := builder.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("closing derived store: %w", closeErr)
	}
	if err != nil {
		return nil, err
	}

	entry, err := m.cache.Commit(fingerprint, scratch, src, buildResult.Stats)
	if err != nil {
		return nil, err
	}

	client, err := gtfsdb.Open(m.cache.StorePath(fingerprint), storeOpts)
	if err != nil {
		return nil, fmt.Errorf("opening committed store: %w", err)
	}
	m.swap(client)

	logger.Info("feed ingested",
		slog.String("fingerprint", fingerprint),
		slog.String("strategy", buildResult.Strategy.String()),
		slog.Duration("duration", buildResult.Duration))

	return &LoadResult{Success: true, FromCache: false, Stats: entry.Stats}, nil
}

// swap atomically publishes the new store and releases the old one. The
// old handle closes after its in-flight sessions return their connections.
func (m *Manager) swap(next *gtfsdb.Client) {
	m.storeMu.Lock()
	previous := m.current
	m.current = next
	m.storeMu.Unlock()

	if previous != nil {
		logging.SafeCloseWithLogging(previous, m.logger, "close previous store")
	}
}

func (m *Manager) watchPath(path string) {
	m.watchedMu.Lock()
	defer m.watchedMu.Unlock()

	if m.watcher == nil || m.watchedPath == path {
		return
	}
	if m.watchedPath != "" {
		_ = m.watcher.Remove(filepath.Dir(m.watchedPath))
	}
	if err := m.watcher.Add(filepath.Dir(path)); err != nil {
		m.logger.Warn("cannot watch feed source", "path", path, "error", err)
		return
	}
	m.watchedPath = path
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-m.shutdownChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.watchedMu.Lock()
			watched := m.watchedPath
			m.watchedMu.Unlock()
			if watched == "" || event.Name != watched {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-timerC:
			m.watchedMu.Lock()
			watched := m.watchedPath
			m.watchedMu.Unlock()

			m.logger.Info("feed source changed, reloading", "path", watched)
			if _, err := m.Load(context.Background(), watched); err != nil {
				logging.LogError(m.logger, "feed reload failed", err)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logging.LogError(m.logger, "feed watcher error", err)
		}
	}
}

// Shutdown stops the watcher and closes the current store. Safe to call
// more than once.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownChan)
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
		m.wg.Wait()

		m.storeMu.Lock()
		current := m.current
		m.current = nil
		m.storeMu.Unlock()
		if current != nil {
			logging.SafeCloseWithLogging(current, m.logger, "close store on shutdown")
		}
	})
}
