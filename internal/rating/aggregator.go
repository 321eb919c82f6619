// Package rating maintains each user's running average rating and review
// count as Reviews are submitted.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/observability"
	"github.com/example/parcel-matching/internal/storage"
)

// ErrDuplicateReview rejects a second Review for the same
// (author, subject, package|trip) tuple.
var ErrDuplicateReview = errors.New("review already exists for this match")

// ValidationError rejects malformed reviews before any write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type Result struct {
	NewAverage float64 `json:"new_average"`
	NewCount   int     `json:"new_count"`
}

type Aggregator struct {
	Reviews storage.ReviewStore
	Users   storage.UserStore
	Logger  *slog.Logger
}

func NewAggregator(store storage.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{Reviews: store, Users: store, Logger: logger}
}

// DisplayRating rounds to one decimal for presentation. The raw average is
// what gets stored, so rounding error never compounds.
func DisplayRating(avg float64) float64 {
	return math.Round(avg*10) / 10
}

// RecordReview validates, rejects duplicates, inserts the Review and rolls
// the subject's running average forward. The user write is not atomic with
// the Review insert; RecomputeSubject re-derives from scratch when the
// incremental path is interrupted.
func (a *Aggregator) RecordReview(ctx context.Context, r *models.Review) (Result, error) {
	if err := validate(r); err != nil {
		return Result{}, err
	}

	existing, err := a.Reviews.QueryReviews(ctx, storage.ReviewQuery{
		AuthorUID:  r.AuthorUID,
		SubjectUID: r.SubjectUID,
		PackageID:  r.PackageID,
		TripID:     r.TripID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("duplicate check: %w", err)
	}
	if len(existing) > 0 {
		return Result{}, ErrDuplicateReview
	}

	if _, err := a.Reviews.CreateReview(ctx, r); err != nil {
		return Result{}, fmt.Errorf("create review: %w", err)
	}

	subject, err := a.Users.GetUser(ctx, r.SubjectUID)
	if errors.Is(err, storage.ErrNotFound) {
		subject = &models.User{UID: r.SubjectUID}
	} else if err != nil {
		return Result{}, fmt.Errorf("load subject: %w", err)
	}

	newCount := subject.ReviewCount + 1
	newAvg := (subject.Rating*float64(subject.ReviewCount) + float64(r.Rating)) / float64(newCount)

	if err := a.patchSubject(ctx, r.SubjectUID, newAvg, newCount); err != nil {
		// the Review is durable; fall back to a full recompute so a repair
		// never double-counts
		a.Logger.Warn("incremental rating update failed, recomputing", "subject_uid", r.SubjectUID, "error", err)
		return a.RecomputeSubject(ctx, r.SubjectUID)
	}

	observability.ReviewsRecorded.Inc()
	return Result{NewAverage: newAvg, NewCount: newCount}, nil
}

// RecomputeSubject re-derives the subject's rating from every stored Review.
// O(n), but always correct: this is the idempotent repair path.
func (a *Aggregator) RecomputeSubject(ctx context.Context, subjectUID string) (Result, error) {
	reviews, err := a.Reviews.QueryReviews(ctx, storage.ReviewQuery{SubjectUID: subjectUID})
	if err != nil {
		return Result{}, fmt.Errorf("list reviews: %w", err)
	}
	var sum int
	for _, r := range reviews {
		sum += r.Rating
	}
	count := len(reviews)
	avg := 0.0
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	if err := a.patchSubject(ctx, subjectUID, avg, count); err != nil {
		return Result{}, fmt.Errorf("store recomputed rating: %w", err)
	}
	observability.ReviewsRecorded.Inc()
	return Result{NewAverage: avg, NewCount: count}, nil
}

func (a *Aggregator) patchSubject(ctx context.Context, uid string, avg float64, count int) error {
	err := a.Users.PatchUser(ctx, uid, storage.UserPatch{Rating: &avg, ReviewCount: &count})
	if errors.Is(err, storage.ErrNotFound) {
		return a.Users.PutUser(ctx, &models.User{UID: uid, Rating: avg, ReviewCount: count})
	}
	return err
}

func validate(r *models.Review) error {
	if r.AuthorUID == "" || r.SubjectUID == "" {
		return &ValidationError{Msg: "author and subject are required"}
	}
	if r.AuthorUID == r.SubjectUID {
		return &ValidationError{Msg: "cannot review yourself"}
	}
	if r.Rating < 1 || r.Rating > 5 {
		return &ValidationError{Msg: "rating must be between 1 and 5"}
	}
	if r.PackageID == "" && r.TripID == "" {
		return &ValidationError{Msg: "review must reference a package or a trip"}
	}
	return nil
}
