package rating

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/storage"
)

func newAggregator(store storage.Store) *Aggregator {
	return &Aggregator{
		Reviews: store,
		Users:   store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRatingConvergence(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.PutUser(ctx, &models.User{UID: "subject", DisplayName: "S"}); err != nil {
		t.Fatal(err)
	}
	a := newAggregator(store)

	var last Result
	for i, rate := range []int{5, 3, 4} {
		var err error
		last, err = a.RecordReview(ctx, &models.Review{
			AuthorUID:  authorN(i),
			SubjectUID: "subject",
			PackageID:  pkgN(i),
			Rating:     rate,
		})
		if err != nil {
			t.Fatalf("review %d: %v", i, err)
		}
	}
	if last.NewCount != 3 {
		t.Fatalf("count = %d, want 3", last.NewCount)
	}
	if DisplayRating(last.NewAverage) != 4.0 {
		t.Fatalf("display rating = %v, want 4.0", DisplayRating(last.NewAverage))
	}
	u, _ := store.GetUser(ctx, "subject")
	if u.ReviewCount != 3 || DisplayRating(u.Rating) != 4.0 {
		t.Fatalf("stored user = %+v", u)
	}
}

func authorN(i int) string { return "author-" + string(rune('a'+i)) }
func pkgN(i int) string    { return "pkg-" + string(rune('a'+i)) }

func TestDuplicateReviewRejected(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	a := newAggregator(store)

	r := &models.Review{AuthorUID: "author", SubjectUID: "subject", PackageID: "pkg-1", Rating: 5}
	if _, err := a.RecordReview(ctx, r); err != nil {
		t.Fatal(err)
	}
	dup := &models.Review{AuthorUID: "author", SubjectUID: "subject", PackageID: "pkg-1", Rating: 1}
	if _, err := a.RecordReview(ctx, dup); !errors.Is(err, ErrDuplicateReview) {
		t.Fatalf("got %v, want ErrDuplicateReview", err)
	}

	u, _ := store.GetUser(ctx, "subject")
	if u.ReviewCount != 1 {
		t.Fatalf("review count = %d after rejected duplicate, want 1", u.ReviewCount)
	}

	// same author and subject on a different package is a new review
	other := &models.Review{AuthorUID: "author", SubjectUID: "subject", PackageID: "pkg-2", Rating: 4}
	if _, err := a.RecordReview(ctx, other); err != nil {
		t.Fatalf("distinct tuple rejected: %v", err)
	}
}

func TestReviewValidation(t *testing.T) {
	a := newAggregator(storage.NewMemoryStore())
	ctx := context.Background()
	cases := []*models.Review{
		{AuthorUID: "", SubjectUID: "s", PackageID: "p", Rating: 3},
		{AuthorUID: "a", SubjectUID: "a", PackageID: "p", Rating: 3},
		{AuthorUID: "a", SubjectUID: "s", PackageID: "p", Rating: 0},
		{AuthorUID: "a", SubjectUID: "s", PackageID: "p", Rating: 6},
		{AuthorUID: "a", SubjectUID: "s", Rating: 3}, // no package or trip
	}
	for i, r := range cases {
		if _, err := a.RecordReview(ctx, r); err == nil {
			t.Errorf("case %d: invalid review accepted", i)
		} else {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("case %d: got %v, want ValidationError", i, err)
			}
		}
	}
}

// flakyUsers fails a number of PatchUser calls so the recompute fallback
// path gets exercised.
type flakyUsers struct {
	storage.Store
	failPatch int
}

func (f *flakyUsers) PatchUser(ctx context.Context, uid string, patch storage.UserPatch) error {
	if f.failPatch > 0 {
		f.failPatch--
		return errors.New("store unavailable")
	}
	return f.Store.PatchUser(ctx, uid, patch)
}

func TestIncrementalFailureFallsBackToRecompute(t *testing.T) {
	mem := storage.NewMemoryStore()
	ctx := context.Background()
	if err := mem.PutUser(ctx, &models.User{UID: "subject"}); err != nil {
		t.Fatal(err)
	}
	flaky := &flakyUsers{Store: mem, failPatch: 1}
	a := &Aggregator{Reviews: mem, Users: flaky, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	res, err := a.RecordReview(ctx, &models.Review{
		AuthorUID: "author", SubjectUID: "subject", PackageID: "pkg-1", Rating: 4,
	})
	if err != nil {
		t.Fatalf("fallback should have repaired the write: %v", err)
	}
	if res.NewCount != 1 || res.NewAverage != 4 {
		t.Fatalf("result = %+v, want count 1 avg 4", res)
	}
	u, _ := mem.GetUser(ctx, "subject")
	if u.ReviewCount != 1 || u.Rating != 4 {
		t.Fatalf("stored user = %+v", u)
	}
}

func TestRecomputeSubjectFromScratch(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	for i, rate := range []int{2, 4} {
		if _, err := store.CreateReview(ctx, &models.Review{
			AuthorUID: authorN(i), SubjectUID: "subject", PackageID: pkgN(i), Rating: rate,
		}); err != nil {
			t.Fatal(err)
		}
	}
	// stored projection is stale on purpose
	if err := store.PutUser(ctx, &models.User{UID: "subject", Rating: 5, ReviewCount: 9}); err != nil {
		t.Fatal(err)
	}

	a := newAggregator(store)
	res, err := a.RecomputeSubject(ctx, "subject")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewCount != 2 || res.NewAverage != 3 {
		t.Fatalf("recompute = %+v, want count 2 avg 3", res)
	}
}
