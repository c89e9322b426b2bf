package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// MemoryConfigStore is an in-memory fiscal.ConfigStore.
type MemoryConfigStore struct {
	mu      sync.Mutex
	configs map[string]fiscal.FiscalConfig
	// GetErr, when set, is returned by Get.
	GetErr error
}

// NewMemoryConfigStore creates an empty store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: map[string]fiscal.FiscalConfig{}}
}

// Put seeds a configuration as-is, bypassing Save's resets.
func (s *MemoryConfigStore) Put(cfg fiscal.FiscalConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.TenantID] = cfg
}

// Snapshot returns the stored configuration or false.
func (s *MemoryConfigStore) Snapshot(tenantID string) (fiscal.FiscalConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[tenantID]
	return cfg, ok
}

func (s *MemoryConfigStore) Get(_ context.Context, tenantID string) (*fiscal.FiscalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, fiscal.ErrNotFound
	}
	return &cfg, nil
}

func (s *MemoryConfigStore) Save(_ context.Context, cfg fiscal.FiscalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Ticket = fiscal.Ticket{}
	cfg.LastError = ""
	cfg.UpdatedAt = time.Now()
	s.configs[cfg.TenantID] = cfg
	return nil
}

func (s *MemoryConfigStore) UpdateTicket(_ context.Context, tenantID string, ticket fiscal.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return fiscal.ErrNotFound
	}
	cfg.Ticket = ticket
	cfg.Status = fiscal.StatusActive
	cfg.LastError = ""
	cfg.UpdatedAt = time.Now()
	s.configs[tenantID] = cfg
	return nil
}

func (s *MemoryConfigStore) UpdateStatus(_ context.Context, tenantID string, status fiscal.ConfigStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return fiscal.ErrNotFound
	}
	cfg.Status = status
	cfg.LastError = lastError
	cfg.UpdatedAt = time.Now()
	s.configs[tenantID] = cfg
	return nil
}

func (s *MemoryConfigStore) ClearTicket(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return fiscal.ErrNotFound
	}
	cfg.Ticket = fiscal.Ticket{}
	s.configs[tenantID] = cfg
	return nil
}

// MemorySalesPoints is an in-memory fiscal.SalesPointRegistry.
type MemorySalesPoints struct {
	mu     sync.Mutex
	points map[string]map[int]fiscal.SalesPoint
}

// NewMemorySalesPoints creates an empty registry.
func NewMemorySalesPoints() *MemorySalesPoints {
	return &MemorySalesPoints{points: map[string]map[int]fiscal.SalesPoint{}}
}

func (r *MemorySalesPoints) List(_ context.Context, tenantID string) ([]fiscal.SalesPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fiscal.SalesPoint, 0, len(r.points[tenantID]))
	for _, p := range r.points[tenantID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *MemorySalesPoints) Upsert(_ context.Context, point fiscal.SalesPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byNumber, ok := r.points[point.TenantID]
	if !ok {
		byNumber = map[int]fiscal.SalesPoint{}
		r.points[point.TenantID] = byNumber
	}
	if point.Default {
		for n, p := range byNumber {
			p.Default = false
			byNumber[n] = p
		}
	}
	byNumber[point.Number] = point
	return nil
}

func (r *MemorySalesPoints) Replace(_ context.Context, tenantID string, points []fiscal.SalesPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byNumber := make(map[int]fiscal.SalesPoint, len(points))
	for _, p := range points {
		p.TenantID = tenantID
		byNumber[p.Number] = p
	}
	r.points[tenantID] = byNumber
	return nil
}

// MemoryDocuments is an in-memory fiscal.DocumentRepository that enforces the
// one-AUTHORIZED-record-per-number rule.
type MemoryDocuments struct {
	mu   sync.Mutex
	docs []fiscal.FiscalDocument
	// CreateErr, when set, is returned by Create without storing.
	CreateErr error
}

// NewMemoryDocuments creates an empty repository.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{}
}

// All returns every stored document in insertion order.
func (r *MemoryDocuments) All() []fiscal.FiscalDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fiscal.FiscalDocument(nil), r.docs...)
}

func (r *MemoryDocuments) Create(_ context.Context, doc fiscal.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if doc.Status == fiscal.DocumentAuthorized {
		for _, d := range r.docs {
			if d.Status == fiscal.DocumentAuthorized && d.Key() == doc.Key() && d.SequenceNumber == doc.SequenceNumber {
				return fiscal.ErrAlreadyAuthorized
			}
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	r.docs = append(r.docs, doc)
	return nil
}

func (r *MemoryDocuments) FindByID(_ context.Context, tenantID, id string) (*fiscal.FiscalDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.TenantID == tenantID && d.ID == id {
			doc := d
			return &doc, nil
		}
	}
	return nil, fiscal.ErrNotFound
}

func (r *MemoryDocuments) FindByNumber(_ context.Context, key fiscal.SequenceKey, number int64) (*fiscal.FiscalDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *fiscal.FiscalDocument
	for i := range r.docs {
		d := r.docs[i]
		if d.Key() != key || d.SequenceNumber != number {
			continue
		}
		if d.Status == fiscal.DocumentAuthorized {
			return &d, nil
		}
		found = &d
	}
	if found == nil {
		return nil, fiscal.ErrNotFound
	}
	return found, nil
}

var (
	_ fiscal.ConfigStore        = (*MemoryConfigStore)(nil)
	_ fiscal.SalesPointRegistry = (*MemorySalesPoints)(nil)
	_ fiscal.DocumentRepository = (*MemoryDocuments)(nil)
)
