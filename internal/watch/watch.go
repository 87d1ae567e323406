// Package watch keeps a directory of saved messages free of wrapped links,
// rewriting files in place whenever they change.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"safelinks/cleaner"
	"safelinks/guard"
	"safelinks/links"
)

const defaultDebounce = 200 * time.Millisecond

// DirSource turns fsnotify events for one directory into debounced mutation
// batches. It is the guard.Observer for a watched directory.
type DirSource struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	mu        sync.Mutex
	handler   func()
	observing bool
}

// NewDirSource opens an fsnotify watcher for dir. Nothing is observed until
// Observe is called.
func NewDirSource(dir string, debounce time.Duration, logger *slog.Logger) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", dir)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{dir: dir, debounce: debounce, logger: logger, watcher: w}, nil
}

// Factory returns a guard.Factory that binds handler to this source.
func (s *DirSource) Factory() guard.Factory {
	return func(handler func()) (guard.Observer, error) {
		s.mu.Lock()
		s.handler = handler
		s.mu.Unlock()
		return s, nil
	}
}

// Observe starts watching the directory.
func (s *DirSource) Observe() error {
	if err := s.watcher.Add(s.dir); err != nil {
		return err
	}
	s.mu.Lock()
	s.observing = true
	s.mu.Unlock()
	return nil
}

// Disconnect stops watching the directory.
func (s *DirSource) Disconnect() {
	s.mu.Lock()
	s.observing = false
	s.mu.Unlock()
	if err := s.watcher.Remove(s.dir); err != nil {
		s.logger.Debug("watcher: remove failed", slog.String("path", s.dir), slog.String("error", err.Error()))
	}
}

// Close releases the underlying watcher.
func (s *DirSource) Close() error { return s.watcher.Close() }

// Run processes events until ctx is cancelled. The handler is called on
// this goroutine once the directory has been quiet for the debounce period.
func (s *DirSource) Run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(s.debounce)
			fire = timer.C
			return
		}
		timer.Reset(s.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-fire:
			s.mu.Lock()
			handler, observing := s.handler, s.observing
			s.mu.Unlock()
			if observing && handler != nil {
				handler()
			}

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !Eligible(ev.Name) {
				continue
			}
			s.mu.Lock()
			observing := s.observing
			s.mu.Unlock()
			if !observing {
				continue
			}
			s.logger.Debug("watcher: change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			schedule()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// Eligible reports whether a file is rewritten by Rescan.
func Eligible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".txt":
		return true
	}
	return false
}

// Stats summarises one Rescan.
type Stats struct {
	Scanned   int
	Rewritten int
}

// Rescan rewrites every eligible file directly inside dir, writing only
// files whose content changed. A file that cannot be rewritten does not stop
// the scan; its error is joined into the returned one.
func Rescan(dir string, u *links.Untangler, opts ...cleaner.Option) (Stats, error) {
	var st Stats
	var errs []error
	entries, err := os.ReadDir(dir)
	if err != nil {
		return st, err
	}
	if u == nil {
		u = links.New()
	}
	opts = append([]cleaner.Option{cleaner.WithUntangler(u)}, opts...)
	for _, e := range entries {
		if e.IsDir() || !Eligible(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		changed, err := rewriteFile(path, u, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("watch: %s: %w", path, err))
			continue
		}
		st.Scanned++
		if changed {
			st.Rewritten++
		}
	}
	return st, errors.Join(errs...)
}

func rewriteFile(path string, u *links.Untangler, opts []cleaner.Option) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	var out []byte
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		text := u.Untangle(string(data))
		if text == string(data) {
			return false, nil
		}
		out = []byte(text)
	} else {
		var buf bytes.Buffer
		res, err := cleaner.Clean(bytes.NewReader(data), &buf, opts...)
		if err != nil {
			return false, err
		}
		if !res.Changed() {
			return false, nil
		}
		out = buf.Bytes()
	}
	return true, os.WriteFile(path, out, info.Mode().Perm())
}

// Config configures a Watcher.
type Config struct {
	Dir       string
	Debounce  time.Duration
	Logger    *slog.Logger
	Untangler *links.Untangler
	// Clean is passed to every HTML rewrite.
	Clean []cleaner.Option
	// OnRescan, when set, is called after each rescan.
	OnRescan func(Stats)
}

// Watcher keeps a directory clean.
type Watcher struct {
	cfg    Config
	source *DirSource
	guard  *guard.Guard
}

// New prepares a watcher for cfg.Dir.
func New(cfg Config) (*Watcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Untangler == nil {
		cfg.Untangler = links.New(links.WithLogger(cfg.Logger))
	}
	src, err := NewDirSource(cfg.Dir, cfg.Debounce, cfg.Logger)
	if err != nil {
		return nil, err
	}
	w := &Watcher{cfg: cfg, source: src}
	w.guard = guard.New(src.Factory(), w.rescan, guard.WithLogger(cfg.Logger))
	return w, nil
}

// Guard returns the watcher's mutation guard.
func (w *Watcher) Guard() *guard.Guard { return w.guard }

// Run cleans the directory once, then keeps it clean until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.source.Close()
	if err := w.guard.Without(w.rescan); err != nil {
		return err
	}
	if err := w.guard.Enable(); err != nil {
		return err
	}
	defer w.guard.Disable()
	w.cfg.Logger.Info("watcher: started", slog.String("dir", w.cfg.Dir))
	err := w.source.Run(ctx)
	w.cfg.Logger.Info("watcher: stopped")
	return err
}

func (w *Watcher) rescan() error {
	st, err := Rescan(w.cfg.Dir, w.cfg.Untangler, w.cfg.Clean...)
	if err != nil {
		// A vanished directory is fatal; per-file failures are only logged.
		if _, statErr := os.Stat(w.cfg.Dir); statErr != nil {
			return err
		}
		for _, e := range unjoin(err) {
			w.cfg.Logger.Warn("watcher: skipped file", slog.String("error", e.Error()))
		}
	}
	if st.Rewritten > 0 {
		w.cfg.Logger.Info("watcher: rewrote files", slog.Int("files", st.Rewritten), slog.Int("scanned", st.Scanned))
	}
	if w.cfg.OnRescan != nil {
		w.cfg.OnRescan(st)
	}
	return nil
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
