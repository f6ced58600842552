// Package reload implements the hot-reload manager (C11): it watches the
// config file, and on a Modified event tries to parse, validate, and swap
// in a new snapshot through the pipeline's reload barrier, rolling back to
// the previous snapshot on any failure.
package reload

import (
	"context"
	"fmt"
	"log"

	"github.com/fsnotify/fsnotify"

	"github.com/sicyuan404/proxycast/internal/config"
)

// Outcome is the result the manager surfaces for one reload attempt.
type Outcome struct {
	Kind          OutcomeKind
	Err           error
	RollbackErr   error
}

type OutcomeKind string

const (
	OutcomeSuccess    OutcomeKind = "success"
	OutcomeRolledBack OutcomeKind = "rolled_back"
	OutcomeFailed     OutcomeKind = "failed"
)

// Barrier is what the pipeline exposes for the manager to drive: an
// exclusive-locked, short, network-free swap of the live snapshot.
type Barrier interface {
	Swap(cfg *config.Config) error
	Current() *config.Config
}

// Manager watches path for changes and drives Barrier on each Modified
// event. It keeps the last-known-good snapshot so a failed reload can roll
// back without re-reading the file.
type Manager struct {
	path     string
	barrier  Barrier
	watcher  *fsnotify.Watcher
	lastGood *config.Config

	Outcomes chan Outcome
}

// New creates a Manager and performs the initial load+validate+swap, so
// Barrier.Current() is populated before Run starts watching for changes.
func New(path string, barrier Barrier) (*Manager, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reload: initial load failed: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("reload: initial config invalid: %w", err)
	}
	if err := barrier.Swap(cfg); err != nil {
		return nil, fmt.Errorf("reload: initial swap failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("reload: watching %s: %w", path, err)
	}

	return &Manager{path: path, barrier: barrier, watcher: watcher, lastGood: cfg, Outcomes: make(chan Outcome, 8)}, nil
}

// Run blocks, processing fsnotify events until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	defer m.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == 0 && event.Op&fsnotify.Create == 0 {
				continue
			}
			m.handleEvent()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Reload] watcher error: %v", err)
		}
	}
}

func (m *Manager) handleEvent() {
	outcome := m.attempt()
	log.Printf("[Reload] %s config change: %s", m.path, outcome.Kind)
	select {
	case m.Outcomes <- outcome:
	default:
		log.Printf("[Reload] outcomes channel full, dropping %s notification", outcome.Kind)
	}
}

func (m *Manager) attempt() Outcome {
	cfg, err := config.Load(m.path)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		return m.rollback(err)
	}

	if err := m.barrier.Swap(cfg); err != nil {
		return m.rollback(err)
	}

	m.lastGood = cfg
	return Outcome{Kind: OutcomeSuccess}
}

func (m *Manager) rollback(cause error) Outcome {
	if rbErr := m.barrier.Swap(m.lastGood); rbErr != nil {
		return Outcome{Kind: OutcomeFailed, Err: cause, RollbackErr: rbErr}
	}
	return Outcome{Kind: OutcomeRolledBack, Err: cause}
}
