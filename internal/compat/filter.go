// Package compat holds the compatibility filter: pure, side-effect-free
// matching rules between PackageRequests and TripOffers. It never touches
// the store and is safe to call concurrently.
package compat

import (
	"sort"
	"strings"

	"github.com/example/parcel-matching/internal/models"
)

// NormalizeLocation canonicalizes a location label for exact-match routing:
// surrounding whitespace is stripped and internal runs collapse to one space.
// No fuzzy matching happens anywhere downstream.
func NormalizeLocation(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Compatible reports whether a package/trip pair satisfies the symmetric
// rules: same route, trip arrives no later than the deadline (ties allowed)
// and the two sides are not owned by the same user. Status is checked by
// the direction-specific helpers, since it only applies to the non-anchor
// side.
func Compatible(p *models.PackageRequest, t *models.TripOffer) bool {
	if p.From != t.From || p.To != t.To {
		return false
	}
	if t.Date.After(p.Deadline) {
		return false
	}
	if p.OwnerUID == t.OwnerUID {
		return false
	}
	return true
}

// TripsForPackage returns the candidate trips compatible with the anchor
// package, oldest post first; ties break on id for determinism.
func TripsForPackage(p *models.PackageRequest, candidates []*models.TripOffer) []*models.TripOffer {
	out := make([]*models.TripOffer, 0, len(candidates))
	for _, t := range candidates {
		if t.Status != models.TripActive {
			continue
		}
		if !Compatible(p, t) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PackagesForTrip is the mirror direction: pending packages compatible with
// the anchor trip, same ordering.
func PackagesForTrip(t *models.TripOffer, candidates []*models.PackageRequest) []*models.PackageRequest {
	out := make([]*models.PackageRequest, 0, len(candidates))
	for _, p := range candidates {
		if p.Status != models.PackagePending {
			continue
		}
		if !Compatible(p, t) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
