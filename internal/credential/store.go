// Package credential implements the typed credential registry (C1): CRUD
// over Credential records, health-state transitions, and usage counters.
// It is the single source of truth for runtime credential state; on-disk
// OAuth files are refreshed opportunistically by provider drivers but the
// Store is authoritative (§5 shared-resource policy).
package credential

import (
	"sync"
	"time"

	"github.com/sicyuan404/proxycast/internal/domain"
)

// Persister is the backing single-writer keyed store. A nil Persister makes
// the Store a pure in-memory registry, which is sufficient for tests and for
// deployments that don't need credentials to survive a restart.
type Persister interface {
	Save(c *domain.Credential) error
	Delete(uuid string) error
	List() ([]*domain.Credential, error)
}

// Store is the in-memory credential registry behind a reader-writer lock
// (§5: "Credential store ... behind a reader-writer lock; reads never block
// reads").
type Store struct {
	mu         sync.RWMutex
	byUUID     map[string]*domain.Credential
	persister  Persister
}

// New creates an empty Store. Call Load to hydrate from a Persister.
func New(p Persister) *Store {
	return &Store{
		byUUID:    make(map[string]*domain.Credential),
		persister: p,
	}
}

// Load hydrates the in-memory registry from the backing persister, if any.
func (s *Store) Load() error {
	if s.persister == nil {
		return nil
	}
	list, err := s.persister.List()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range list {
		s.byUUID[c.UUID] = c
	}
	return nil
}

// Insert adds a new credential record. Each credential is the unit of
// consistency (§4.1): no cross-credential transaction is required.
func (s *Store) Insert(c *domain.Credential) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if !c.IsHealthy && c.ErrorCount < domain.MaxCredentialErrors {
		c.IsHealthy = true
	}

	s.mu.Lock()
	s.byUUID[c.UUID] = c
	s.mu.Unlock()

	return s.persist(c)
}

// Update replaces the stored record for c.UUID.
func (s *Store) Update(c *domain.Credential) error {
	c.UpdatedAt = time.Now()

	s.mu.Lock()
	s.byUUID[c.UUID] = c
	s.mu.Unlock()

	return s.persist(c)
}

// Delete removes a credential permanently. Per §3, deletion is the only way
// a credential is destroyed.
func (s *Store) Delete(uuid string) error {
	s.mu.Lock()
	delete(s.byUUID, uuid)
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	return s.persister.Delete(uuid)
}

// GetByUUID returns the credential, or nil if absent.
func (s *Store) GetByUUID(uuid string) *domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byUUID[uuid]
}

// GetByName returns the first credential whose Name matches, or nil.
func (s *Store) GetByName(name string) *domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byUUID {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// GetByKind returns all credentials of the given kind.
func (s *Store) GetByKind(kind domain.CredentialKind) []*domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Credential
	for _, c := range s.byUUID {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// GroupByKind partitions the whole registry by Kind.
func (s *Store) GroupByKind() map[domain.CredentialKind][]*domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.CredentialKind][]*domain.Credential)
	for _, c := range s.byUUID {
		out[c.Kind] = append(out[c.Kind], c)
	}
	return out
}

// List returns every credential in the registry.
func (s *Store) List() []*domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Credential, 0, len(s.byUUID))
	for _, c := range s.byUUID {
		out = append(out, c)
	}
	return out
}

// MarkHealthy resets the error count and flips is_healthy true (§4.1).
// Idempotent: calling it repeatedly has the same effect as calling it once.
func (s *Store) MarkHealthy(uuid string, checkModel string) error {
	s.mu.Lock()
	c, ok := s.byUUID[uuid]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	now := time.Now()
	c.ErrorCount = 0
	c.IsHealthy = true
	c.LastHealthCheck = &now
	c.LastError = ""
	if checkModel != "" {
		c.CheckPolicy.CheckModel = checkModel
	}
	c.UpdatedAt = now
	s.mu.Unlock()

	return s.persist(c)
}

// MarkUnhealthy increments error_count; at MaxCredentialErrors it flips
// is_healthy false (§4.1). Not idempotent: each call counts.
func (s *Store) MarkUnhealthy(uuid string, errMsg string) error {
	s.mu.Lock()
	c, ok := s.byUUID[uuid]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	c.ErrorCount++
	if errMsg != "" {
		c.LastError = errMsg
	}
	if c.ErrorCount >= domain.MaxCredentialErrors {
		c.IsHealthy = false
	}
	c.UpdatedAt = time.Now()
	s.mu.Unlock()

	return s.persist(c)
}

// RecordUsage increments the usage counter and stamps LastUsedAt.
func (s *Store) RecordUsage(uuid string) error {
	s.mu.Lock()
	c, ok := s.byUUID[uuid]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	now := time.Now()
	c.UsageCount++
	c.LastUsedAt = &now
	c.UpdatedAt = now
	s.mu.Unlock()

	return s.persist(c)
}

// ResetCounters zeroes error and usage counters without touching health.
func (s *Store) ResetCounters(uuid string) error {
	s.mu.Lock()
	c, ok := s.byUUID[uuid]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	c.ErrorCount = 0
	c.UsageCount = 0
	c.UpdatedAt = time.Now()
	s.mu.Unlock()

	return s.persist(c)
}

// ResetHealthByKind marks every credential of the given kind healthy, e.g.
// after an operator fixes a systemic upstream outage for that provider.
func (s *Store) ResetHealthByKind(kind domain.CredentialKind) error {
	s.mu.Lock()
	var touched []*domain.Credential
	now := time.Now()
	for _, c := range s.byUUID {
		if c.Kind != kind {
			continue
		}
		c.ErrorCount = 0
		c.IsHealthy = true
		c.LastHealthCheck = &now
		c.UpdatedAt = now
		touched = append(touched, c)
	}
	s.mu.Unlock()

	for _, c := range touched {
		if err := s.persist(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persist(c *domain.Credential) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Save(c)
}
