package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/observability"
	"github.com/example/parcel-matching/internal/storage"
)

// Reconcile is the forward-recovery pass: given a Match that may have been
// left mid-saga, it recreates whatever is missing and re-derives the
// package/trip statuses from the Match set. It never deletes the Match and
// is safe to run any number of times from any process.
func (c *Coordinator) Reconcile(ctx context.Context, matchID string) error {
	m, err := c.Store.GetMatch(ctx, matchID)
	if errors.Is(err, storage.ErrNotFound) {
		return validationf("match %s not found", matchID)
	}
	if err != nil {
		return fmt.Errorf("load match: %w", err)
	}

	if err := c.Retry.retry(ctx, func() error {
		return c.ensureConversation(ctx, m)
	}); err != nil {
		return fmt.Errorf("reconcile conversation for match %s: %w", matchID, err)
	}

	if m.Status == models.MatchPending {
		st := models.MatchAccepted
		if err := c.Retry.retry(ctx, func() error {
			return c.Store.PatchMatch(ctx, m.ID, storage.MatchPatch{Status: &st})
		}); err != nil {
			return fmt.Errorf("reconcile match status %s: %w", matchID, err)
		}
		m.Status = models.MatchAccepted
	}

	if err := c.Retry.retry(ctx, func() error {
		if err := c.projectPackageStatus(ctx, m.PackageID); err != nil {
			return err
		}
		return c.projectTripStatus(ctx, m.TripID)
	}); err != nil {
		return fmt.Errorf("reconcile statuses for match %s: %w", matchID, err)
	}

	observability.SagaRecoveries.Inc()
	c.Logger.Info("match reconciled", "match_id", matchID)
	c.publish(ctx, EventMatchReconciled, matchEvent(m))
	return nil
}

// ReconcileAll sweeps every non-terminal Match. Used by the background
// reconciler as a safety net behind the event-driven path.
func (c *Coordinator) ReconcileAll(ctx context.Context) (int, error) {
	open, err := c.Store.QueryMatches(ctx, storage.MatchQuery{
		Statuses: []models.MatchStatus{models.MatchPending, models.MatchAccepted},
	})
	if err != nil {
		return 0, fmt.Errorf("list open matches: %w", err)
	}
	n := 0
	for _, m := range open {
		if err := c.Reconcile(ctx, m.ID); err != nil {
			c.Logger.Error("reconcile failed", "match_id", m.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// projectPackageStatus re-derives a package's status as a projection of its
// Match set. Status is a cache of this query, never ground truth, which is
// what makes partial writes recoverable.
func (c *Coordinator) projectPackageStatus(ctx context.Context, packageID string) error {
	pkg, err := c.Store.GetPackage(ctx, packageID)
	if err != nil {
		return fmt.Errorf("load package: %w", err)
	}
	matches, err := c.Store.QueryMatches(ctx, storage.MatchQuery{PackageID: packageID})
	if err != nil {
		return fmt.Errorf("load package matches: %w", err)
	}

	want := models.PackagePending
	for _, m := range matches {
		switch m.Status {
		case models.MatchCompleted:
			want = models.PackageCompleted
		case models.MatchAccepted:
			if want != models.PackageCompleted {
				want = models.PackageInProgress
			}
		}
	}
	return c.settlePackage(ctx, pkg, want)
}

// settlePackage walks the state machine toward the derived status without
// skipping or reversing steps.
func (c *Coordinator) settlePackage(ctx context.Context, pkg *models.PackageRequest, want models.PackageStatus) error {
	cur := pkg.Status
	for cur != want {
		var next models.PackageStatus
		switch {
		case cur == models.PackagePending && (want == models.PackageInProgress || want == models.PackageCompleted):
			next = models.PackageInProgress
		case cur == models.PackageInProgress && want == models.PackageCompleted:
			next = models.PackageCompleted
		default:
			// derived status is behind the stored one; monotonicity wins
			return nil
		}
		if !cur.CanTransition(next) {
			return nil
		}
		if err := c.Store.PatchPackage(ctx, pkg.ID, storage.PackagePatch{Status: &next}); err != nil {
			return fmt.Errorf("patch package status: %w", err)
		}
		cur = next
	}
	return nil
}

// projectTripStatus mirrors projectPackageStatus for trips: in_progress
// while any accepted Match is outstanding, completed once every Match on it
// has completed.
func (c *Coordinator) projectTripStatus(ctx context.Context, tripID string) error {
	trip, err := c.Store.GetTrip(ctx, tripID)
	if err != nil {
		return fmt.Errorf("load trip: %w", err)
	}
	matches, err := c.Store.QueryMatches(ctx, storage.MatchQuery{TripID: tripID})
	if err != nil {
		return fmt.Errorf("load trip matches: %w", err)
	}

	outstanding, completed := 0, 0
	for _, m := range matches {
		if m.Status.Terminal() {
			completed++
		} else {
			// pending counts too: it is durable intent that will be accepted
			outstanding++
		}
	}

	want := trip.Status
	switch {
	case outstanding > 0:
		want = models.TripInProgress
	case completed > 0 && outstanding == 0:
		want = models.TripCompleted
	}
	cur := trip.Status
	for cur != want {
		var next models.TripStatus
		switch {
		case cur == models.TripActive:
			next = models.TripInProgress
		case cur == models.TripInProgress && want == models.TripCompleted:
			next = models.TripCompleted
		default:
			return nil
		}
		if !cur.CanTransition(next) {
			return nil
		}
		if err := c.Store.PatchTrip(ctx, trip.ID, storage.TripPatch{Status: &next}); err != nil {
			return fmt.Errorf("patch trip status: %w", err)
		}
		cur = next
	}
	return nil
}
