package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/parcel-matching/internal/lifecycle"
	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*Service, storage.Store, *models.Match, string) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	deadline, _ := time.Parse("2006-01-02", "2025-06-10")
	date, _ := time.Parse("2006-01-02", "2025-06-08")

	pkgID, _ := store.CreatePackage(ctx, &models.PackageRequest{
		OwnerUID: "sender", From: "Milan", To: "Tunis", Deadline: deadline, Status: models.PackagePending,
	})
	tripID, _ := store.CreateTrip(ctx, &models.TripOffer{
		OwnerUID: "traveler", From: "Milan", To: "Tunis", Date: date, Capacity: 1, Status: models.TripActive,
	})

	coord := &lifecycle.Coordinator{
		Store: store, Logger: testLogger(),
		Retry: lifecycle.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond},
	}
	m, err := coord.ProposeMatch(ctx, pkgID, tripID, "traveler")
	if err != nil {
		t.Fatal(err)
	}
	convs, _ := store.QueryConversations(ctx, storage.ConversationQuery{
		Participants: models.ParticipantPair("sender", "traveler"),
	})
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	svc := NewService(store, coord, testLogger())
	return svc, store, m, convs[0].ID
}

func TestPostTextUpdatesPreview(t *testing.T) {
	svc, store, _, convID := setup(t)
	ctx := context.Background()

	msg, err := svc.Post(ctx, convID, "sender", "hello, when do you leave?", models.MessageText)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" || msg.Timestamp.IsZero() {
		t.Fatalf("message not stamped: %+v", msg)
	}
	conv, _ := store.GetConversation(ctx, convID)
	if conv.LastMessage != "hello, when do you leave?" || conv.LastMessageAt.IsZero() {
		t.Fatalf("preview not updated: %+v", conv)
	}
}

func TestPostRejectsOutsiders(t *testing.T) {
	svc, _, _, convID := setup(t)
	if _, err := svc.Post(context.Background(), convID, "stranger", "hi", models.MessageText); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("got %v, want ErrNotParticipant", err)
	}
	if _, err := svc.Post(context.Background(), convID, "sender", "hi", models.MessageKind("voice")); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("got %v, want ErrUnknownKind", err)
	}
}

func TestQuickActionConfirmsDelivery(t *testing.T) {
	svc, store, m, convID := setup(t)
	ctx := context.Background()

	if _, err := svc.Post(ctx, convID, "sender", models.QuickActionDeliveryConfirmed, models.MessageQuickAction); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetMatch(ctx, m.ID)
	if got.Status != models.MatchCompleted {
		t.Fatalf("match status = %s after quick action, want completed", got.Status)
	}
	pkg, _ := store.GetPackage(ctx, m.PackageID)
	if pkg.Status != models.PackageCompleted {
		t.Fatalf("package status = %s, want completed", pkg.Status)
	}
}

func TestListMarksRead(t *testing.T) {
	svc, _, _, convID := setup(t)
	ctx := context.Background()

	if _, err := svc.Post(ctx, convID, "sender", "first", models.MessageText); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Post(ctx, convID, "traveler", "second", models.MessageText); err != nil {
		t.Fatal(err)
	}

	msgs, err := svc.List(ctx, convID, "traveler")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.SenderUID == "sender" && !m.Read {
			t.Fatal("counterpart message not marked read")
		}
	}

	if _, err := svc.List(ctx, convID, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("got %v, want ErrNotParticipant", err)
	}
}
