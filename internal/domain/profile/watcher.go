package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Publisher accepts new profile versions. *Store implements it.
type Publisher interface {
	Publish(ctx context.Context, p *Profile) error
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(filepath.Base(name), ".")
}

// LoadFile decodes one YAML profile file.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	p, err := DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// LoadDir publishes every YAML profile in dir in file-name order. A bad file
// does not stop the others; all failures are returned joined.
func LoadDir(ctx context.Context, dir string, pub Publisher) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read profile dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isProfileFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var errs []error
	n := 0
	for _, name := range names {
		p, err := LoadFile(filepath.Join(dir, name))
		if err == nil {
			err = pub.Publish(ctx, p)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// DirWatcher republishes profile files when they change on disk.
type DirWatcher struct {
	dir      string
	pub      Publisher
	debounce time.Duration
	logger   zerolog.Logger
}

// NewDirWatcher creates a watcher for dir.
func NewDirWatcher(dir string, pub Publisher, logger zerolog.Logger) *DirWatcher {
	return &DirWatcher{
		dir:      dir,
		pub:      pub,
		debounce: 250 * time.Millisecond,
		logger:   logger.With().Str("component", "profile_watcher").Str("dir", dir).Logger(),
	}
}

// Run watches until ctx is cancelled. Bursts of events for the same file
// are collapsed into one publish.
func (w *DirWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info().Msg("watching profile directory")

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isProfileFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := ev.Name
			mu.Lock()
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() {
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
				w.reload(ctx, path)
			})
			mu.Unlock()
		}
	}
}

func (w *DirWatcher) reload(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	p, err := LoadFile(path)
	if err != nil {
		w.logger.Error().Err(err).Str("file", path).Msg("profile reload failed")
		return
	}
	if err := w.pub.Publish(ctx, p); err != nil {
		w.logger.Error().Err(err).Str("file", path).Msg("profile publish failed")
		return
	}
	w.logger.Info().
		Str("file", filepath.Base(path)).
		Str("source_system", p.SourceSystem).
		Str("version", p.Version).
		Msg("profile reloaded")
}
