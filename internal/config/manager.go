package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"portgate/pkg/logx"
)

// Manager owns the gated config file: initial load, fsnotify-driven
// reloads, and validate-before-commit semantics so a bad edit never reaches
// the running components.
//
// The gateway has exactly one reload consumer (the app's reload loop), so
// updates go out on a single buffered channel rather than a subscriber
// list; when the consumer lags, older snapshots are dropped in favor of
// the newest.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64 // content hash of the last committed config

	updates chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// Reload debounce: editors produce bursts of write/rename events for
	// one save.
	tmu        sync.Mutex
	debounceTm *time.Timer
}

func NewManager(path string) *Manager {
	return &Manager{
		path:    path,
		updates: make(chan *Config, 4),
	}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the hook Watch runs before committing and
// publishing a changed config.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Updates delivers validated, committed config snapshots. The channel is
// never closed; consumers stop on their own context.
func (m *Manager) Updates() <-chan *Config { return m.updates }

// Parse reads and strictly decodes the config file without committing it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := readAsJSON(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// push hands a committed config to the consumer, dropping the oldest queued
// snapshot if the buffer is full.
func (m *Manager) push(cfg *Config) {
	for {
		select {
		case m.updates <- cfg:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// scheduleReload coalesces a burst of fs events into one parse attempt.
func (m *Manager) scheduleReload(ctx context.Context) {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	if m.debounceTm != nil {
		m.debounceTm.Stop()
	}
	if !m.log.IsZero() {
		m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
	}
	m.debounceTm = time.AfterFunc(250*time.Millisecond, func() { m.reload(ctx) })
}

// reload parses, validates, commits and publishes the file's current
// content. Parse failures and rejected configs keep the previous config.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		if !m.log.IsZero() {
			m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		}
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		if !m.log.IsZero() {
			m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		}
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			}
			return
		}
	}

	m.commit(cfg)
	m.push(cfg)
	if !m.log.IsZero() {
		m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	}
}

// Watch follows the config file until ctx is canceled. The watcher itself
// is restarted with jittered backoff when it breaks (some fsnotify
// backends stop delivering events or close their channels under editor
// churn).
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	const (
		backoffBase = 250 * time.Millisecond
		backoffMax  = 5 * time.Second
	)
	backoff := backoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// pause sleeps one jittered backoff step; false means ctx expired.
	pause := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < backoffMax {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			// Watch the directory, not the file: atomic saves replace the
			// inode and drop a direct file watch.
			if werr := w.Add(dir); werr != nil {
				_ = w.Close()
				err = werr
			}
		}
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config watch setup failed", logx.Err(err), logx.String("dir", dir))
			}
			if !pause() {
				return nil
			}
			continue
		}

		backoff = backoffBase
		if !m.log.IsZero() {
			m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
		}

		m.watchEvents(ctx, w, file)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !m.log.IsZero() {
			m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		}
		if !pause() {
			return nil
		}
	}
	return nil
}

// watchEvents consumes one watcher until it breaks or ctx ends.
func (m *Manager) watchEvents(ctx context.Context, w *fsnotify.Watcher, file string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Compare basenames; event paths vary in absoluteness by OS.
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				m.scheduleReload(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means missed events; reload once and keep watching.
			if strings.Contains(msg, "overflow") {
				if !m.log.IsZero() {
					m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				}
				m.scheduleReload(ctx)
				continue
			}
			if !m.log.IsZero() {
				m.log.Warn("config watch error", logx.Err(err))
			}
			if strings.Contains(msg, "closed") {
				return
			}
		}
	}
}
