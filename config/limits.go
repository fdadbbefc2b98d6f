package config

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/metabrainz/brainzutils-go/ratelimit"
)

// LimitsFile is the content of a rate limits file:
//
//	global:
//	  per_token: 50
//	  per_ip: 30
//	  window: 10s
//	scopes:
//	  search:
//	    per_ip: 5
type LimitsFile struct {
	Global ratelimit.Limits            `koanf:"global" yaml:"global" json:"global"`
	Scopes map[string]ratelimit.Limits `koanf:"scopes" yaml:"scopes" json:"scopes"`
}

// Validate checks every entry of the file.
func (f LimitsFile) Validate() error {
	if err := f.Global.Validate(); err != nil {
		return errors.Wrap(err, "global")
	}
	for scope, limits := range f.Scopes {
		if scope == "" {
			return errors.Wrap(ratelimit.ErrInvalidLimits, "empty scope name")
		}
		if err := limits.Validate(); err != nil {
			return errors.Wrapf(err, "scope %q", scope)
		}
	}
	return nil
}

// Apply stores the global limits, when any is set, and the limits of every
// scope, in name order.
func (f LimitsFile) Apply(ctx context.Context, l *ratelimit.Limiter) error {
	if !f.Global.IsZero() {
		if err := l.SetRateLimits(ctx, f.Global, ""); err != nil {
			return err
		}
	}
	scopes := make([]string, 0, len(f.Scopes))
	for scope := range f.Scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	for _, scope := range scopes {
		if err := l.SetRateLimits(ctx, f.Scopes[scope], scope); err != nil {
			return err
		}
	}
	return nil
}

// LoadLimits reads and validates a rate limits file.
func LoadLimits(path string) (LimitsFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return LimitsFile{}, errors.Wrapf(err, "config: load limits %s", path)
	}
	var f LimitsFile
	if err := k.Unmarshal("", &f); err != nil {
		return LimitsFile{}, errors.Wrapf(err, "config: unmarshal limits %s", path)
	}
	if err := f.Validate(); err != nil {
		return LimitsFile{}, errors.Wrapf(err, "config: limits %s", path)
	}
	return f, nil
}

// LimitsWatcher reloads a limits file when it changes. Stop must be called
// to release the filesystem watch.
type LimitsWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for it to exit.
func (w *LimitsWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// watchDebounce collapses the burst of events editors produce on save.
const watchDebounce = 50 * time.Millisecond

// WatchLimits loads path, reports it to onChange and keeps reporting every
// valid new version until ctx is done or Stop is called. Invalid versions
// and watch failures go to onError, which may be nil.
func WatchLimits(ctx context.Context, path string, onChange func(LimitsFile), onError func(error)) (*LimitsWatcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch limits requires a change callback")
	}
	if onError == nil {
		onError = func(error) {}
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: resolve %s", path)
	}
	target = filepath.Clean(target)

	limits, err := LoadLimits(target)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: watch limits")
	}
	// The directory is watched so replacing the file (rename on save) keeps
	// working.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "config: watch %s", filepath.Dir(target))
	}
	onChange(limits)

	watchCtx, cancel := context.WithCancel(ctx)
	w := &LimitsWatcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		defer watcher.Close()

		timer := time.NewTimer(watchDebounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-timer.C:
				limits, err := LoadLimits(target)
				if err != nil {
					onError(err)
					continue
				}
				onChange(limits)
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if _, err := os.Stat(target); err != nil {
						onError(errors.Newf("config: limits file %s removed", target))
						continue
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					timer.Reset(watchDebounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(errors.Wrap(err, "config: watch limits"))
			}
		}
	}()
	return w, nil
}
