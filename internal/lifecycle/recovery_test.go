package lifecycle

import (
	"context"
	"testing"

	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/storage"
)

// A match written by a crashed saga: pending, no conversation, statuses
// never projected. Recovery must finish all of it forward.
func TestReconcileFinishesOrphanedMatch(t *testing.T) {
	store := storage.NewMemoryStore()
	pkgID, tripID := seed(t, store)
	ctx := context.Background()

	matchID, err := store.CreateMatchIfAbsent(ctx, "pkg:"+pkgID, &models.Match{
		PackageID: pkgID, TripID: tripID, TravelerUID: "traveler", SenderUID: "sender",
		Status: models.MatchPending,
	})
	if err != nil {
		t.Fatal(err)
	}

	c := &Coordinator{Store: store, Logger: testLogger(), Retry: fastRetry()}
	if err := c.Reconcile(ctx, matchID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	m, _ := store.GetMatch(ctx, matchID)
	if m.Status != models.MatchAccepted {
		t.Fatalf("match status = %s, want accepted", m.Status)
	}
	convs, _ := store.QueryConversations(ctx, storage.ConversationQuery{
		Participants: models.ParticipantPair("sender", "traveler"),
	})
	if len(convs) != 1 {
		t.Fatalf("%d conversations, want 1", len(convs))
	}
	pkg, _ := store.GetPackage(ctx, pkgID)
	if pkg.Status != models.PackageInProgress {
		t.Fatalf("package status = %s, want in_progress", pkg.Status)
	}
	trip, _ := store.GetTrip(ctx, tripID)
	if trip.Status != models.TripInProgress {
		t.Fatalf("trip status = %s, want in_progress", trip.Status)
	}

	// second pass is a no-op, not an error
	if err := c.Reconcile(ctx, matchID); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	convs, _ = store.QueryConversations(ctx, storage.ConversationQuery{
		Participants: models.ParticipantPair("sender", "traveler"),
	})
	if len(convs) != 1 {
		t.Fatalf("reconcile duplicated the conversation: %d", len(convs))
	}
}

func TestReconcileAllSweepsOpenMatches(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	c := &Coordinator{Store: store, Logger: testLogger(), Retry: fastRetry()}

	pkgA, tripA := seed(t, store)
	if _, err := store.CreateMatchIfAbsent(ctx, "pkg:"+pkgA, &models.Match{
		PackageID: pkgA, TripID: tripA, TravelerUID: "traveler", SenderUID: "sender",
		Status: models.MatchPending,
	}); err != nil {
		t.Fatal(err)
	}

	n, err := c.ReconcileAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reconciled %d matches, want 1", n)
	}
	pkg, _ := store.GetPackage(ctx, pkgA)
	if pkg.Status != models.PackageInProgress {
		t.Fatalf("package status = %s, want in_progress", pkg.Status)
	}
}

func TestReconcileUnknownMatch(t *testing.T) {
	c := &Coordinator{Store: storage.NewMemoryStore(), Logger: testLogger(), Retry: fastRetry()}
	if err := c.Reconcile(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown match")
	}
}
