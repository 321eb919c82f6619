// Package routeindex keeps the open candidate pools per route so the
// compatibility filter does not have to scan the store on every lookup.
// The index is an acceleration cache: the filter re-checks status and the
// coordinator's guard read stays the source of truth.
package routeindex

import (
	"context"
	"sync"

	"github.com/example/parcel-matching/internal/models"
)

// Index is what the HTTP layer and the reconciler maintain and what the
// compat finder consumes as its CandidateSource.
type Index interface {
	OpenTripsByRoute(ctx context.Context, from, to string) ([]*models.TripOffer, error)
	OpenPackagesByRoute(ctx context.Context, from, to string) ([]*models.PackageRequest, error)
	UpsertPackage(ctx context.Context, p *models.PackageRequest) error
	UpsertTrip(ctx context.Context, t *models.TripOffer) error
	RemovePackage(ctx context.Context, from, to, id string) error
	RemoveTrip(ctx context.Context, from, to, id string) error
}

func routeKey(from, to string) string { return from + "|" + to }

// MemoryIndex is the in-process fallback when redis is not configured.
type MemoryIndex struct {
	mu       sync.RWMutex
	packages map[string]map[string]models.PackageRequest
	trips    map[string]map[string]models.TripOffer
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		packages: make(map[string]map[string]models.PackageRequest),
		trips:    make(map[string]map[string]models.TripOffer),
	}
}

func (m *MemoryIndex) UpsertPackage(ctx context.Context, p *models.PackageRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := routeKey(p.From, p.To)
	if m.packages[key] == nil {
		m.packages[key] = make(map[string]models.PackageRequest)
	}
	m.packages[key][p.ID] = *p
	return nil
}

func (m *MemoryIndex) UpsertTrip(ctx context.Context, t *models.TripOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := routeKey(t.From, t.To)
	if m.trips[key] == nil {
		m.trips[key] = make(map[string]models.TripOffer)
	}
	m.trips[key][t.ID] = *t
	return nil
}

func (m *MemoryIndex) RemovePackage(ctx context.Context, from, to, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.packages[routeKey(from, to)], id)
	return nil
}

func (m *MemoryIndex) RemoveTrip(ctx context.Context, from, to, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips[routeKey(from, to)], id)
	return nil
}

func (m *MemoryIndex) OpenTripsByRoute(ctx context.Context, from, to string) ([]*models.TripOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TripOffer
	for _, t := range m.trips[routeKey(from, to)] {
		if t.Status != models.TripActive {
			continue
		}
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (m *MemoryIndex) OpenPackagesByRoute(ctx context.Context, from, to string) ([]*models.PackageRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PackageRequest
	for _, p := range m.packages[routeKey(from, to)] {
		if p.Status != models.PackagePending {
			continue
		}
		p := p
		out = append(out, &p)
	}
	return out, nil
}
