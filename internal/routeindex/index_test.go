package routeindex

import (
	"context"
	"testing"
	"time"

	"github.com/example/parcel-matching/internal/models"
)

func TestMemoryIndexRouteIsolation(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	deadline := time.Now().Add(72 * time.Hour)

	if err := idx.UpsertPackage(ctx, &models.PackageRequest{
		ID: "p1", OwnerUID: "u1", From: "Milan", To: "Tunis", Deadline: deadline, Status: models.PackagePending,
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.UpsertPackage(ctx, &models.PackageRequest{
		ID: "p2", OwnerUID: "u2", From: "Rome", To: "Tunis", Deadline: deadline, Status: models.PackagePending,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := idx.OpenPackagesByRoute(ctx, "Milan", "Tunis")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("got %v, want only p1", got)
	}
}

func TestMemoryIndexHidesClosedEntries(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	trip := &models.TripOffer{ID: "t1", OwnerUID: "u1", From: "Milan", To: "Tunis", Status: models.TripActive}
	if err := idx.UpsertTrip(ctx, trip); err != nil {
		t.Fatal(err)
	}
	trip.Status = models.TripInProgress
	if err := idx.UpsertTrip(ctx, trip); err != nil {
		t.Fatal(err)
	}

	got, err := idx.OpenTripsByRoute(ctx, "Milan", "Tunis")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("in_progress trip still listed: %v", got)
	}
}

func TestMemoryIndexRemove(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	if err := idx.UpsertTrip(ctx, &models.TripOffer{
		ID: "t1", OwnerUID: "u1", From: "Milan", To: "Tunis", Status: models.TripActive,
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.RemoveTrip(ctx, "Milan", "Tunis", "t1"); err != nil {
		t.Fatal(err)
	}
	got, _ := idx.OpenTripsByRoute(ctx, "Milan", "Tunis")
	if len(got) != 0 {
		t.Fatalf("removed trip still listed: %v", got)
	}
}
