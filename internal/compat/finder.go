package compat

import (
	"context"
	"fmt"

	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/storage"
)

// CandidateSource supplies the open candidate pool for a route. The default
// implementation queries the store; a redis-backed route index can stand in
// on hot paths.
type CandidateSource interface {
	OpenTripsByRoute(ctx context.Context, from, to string) ([]*models.TripOffer, error)
	OpenPackagesByRoute(ctx context.Context, from, to string) ([]*models.PackageRequest, error)
}

// StoreSource answers candidate queries straight from the entity store.
type StoreSource struct {
	Packages storage.PackageStore
	Trips    storage.TripStore
}

func (s *StoreSource) OpenTripsByRoute(ctx context.Context, from, to string) ([]*models.TripOffer, error) {
	return s.Trips.QueryTrips(ctx, storage.TripQuery{From: from, To: to, Status: models.TripActive})
}

func (s *StoreSource) OpenPackagesByRoute(ctx context.Context, from, to string) ([]*models.PackageRequest, error) {
	return s.Packages.QueryPackages(ctx, storage.PackageQuery{From: from, To: to, Status: models.PackagePending})
}

// Finder resolves an anchor document and runs the pure filter over the
// candidate pool. Read-only and restartable.
type Finder struct {
	Packages storage.PackageStore
	Trips    storage.TripStore
	Source   CandidateSource
}

func NewFinder(store storage.Store) *Finder {
	return &Finder{
		Packages: store,
		Trips:    store,
		Source:   &StoreSource{Packages: store, Trips: store},
	}
}

func (f *Finder) CompatibleTrips(ctx context.Context, packageID string) ([]*models.TripOffer, error) {
	p, err := f.Packages.GetPackage(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}
	cands, err := f.Source.OpenTripsByRoute(ctx, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("candidate trips: %w", err)
	}
	return TripsForPackage(p, cands), nil
}

func (f *Finder) CompatiblePackages(ctx context.Context, tripID string) ([]*models.PackageRequest, error) {
	t, err := f.Trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("load trip: %w", err)
	}
	cands, err := f.Source.OpenPackagesByRoute(ctx, t.From, t.To)
	if err != nil {
		return nil, fmt.Errorf("candidate packages: %w", err)
	}
	return PackagesForTrip(t, cands), nil
}
