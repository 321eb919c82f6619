package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/observability"
	"github.com/example/parcel-matching/internal/storage"
)

// EventSink receives lifecycle events for downstream consumers (the kafka
// producer in production, a fake in tests). Best-effort; a publish failure
// never fails the saga.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// Notifier pushes a payload to a connected user. Delivery transport is an
// external collaborator; losses are acceptable.
type Notifier interface {
	Notify(uid string, payload any) error
}

const (
	EventMatchProposed     = "match_proposed"
	EventMatchPartial      = "match_partial"
	EventMatchReconciled   = "match_reconciled"
	EventDeliveryConfirmed = "delivery_confirmed"
)

// Coordinator drives the match-creation saga and the status state machines.
// Every store write is a single-document operation; the conditional create
// in proposeMatch is the only point where competing callers serialize.
type Coordinator struct {
	Store  storage.Store
	Logger *slog.Logger
	Events EventSink // optional
	Notify Notifier  // optional
	Retry  RetryPolicy
}

func NewCoordinator(store storage.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{Store: store, Logger: logger}
}

// claimKey derives the conditional-write key from the package id: at most
// one non-terminal Match may ever hold a given package.
func claimKey(packageID string) string { return "pkg:" + packageID }

// MatchEvent is the payload published for every lifecycle event.
type MatchEvent struct {
	MatchID     string `json:"match_id"`
	PackageID   string `json:"package_id"`
	TripID      string `json:"trip_id"`
	TravelerUID string `json:"traveler_uid"`
	SenderUID   string `json:"sender_uid"`
	Status      string `json:"status"`
}

func matchEvent(m *models.Match) MatchEvent {
	return MatchEvent{
		MatchID:     m.ID,
		PackageID:   m.PackageID,
		TripID:      m.TripID,
		TravelerUID: m.TravelerUID,
		SenderUID:   m.SenderUID,
		Status:      string(m.Status),
	}
}

// ProposeMatch runs the four-step saga from the spec of this subsystem:
// guard read, conditional Match create, Conversation create, status
// transitions. On a partial failure the Match id is surfaced so any later
// caller can resume exactly where this one stopped.
func (c *Coordinator) ProposeMatch(ctx context.Context, packageID, tripID, travelerUID string) (*models.Match, error) {
	if packageID == "" || tripID == "" || travelerUID == "" {
		return nil, validationf("package id, trip id and traveler uid are required")
	}

	// Step 1: guard read. Re-checks the race window between the UI read and
	// this call; failures here are terminal and nothing has been written.
	pkg, trip, err := c.guard(ctx, packageID, tripID, travelerUID)
	if err != nil {
		// A non-pending package may mean this caller's own earlier attempt
		// already claimed it and stopped mid-flight. The claim, not the
		// projected status, decides who holds the package.
		if errors.Is(err, ErrAlreadyMatched) {
			if own, ferr := c.ownClaim(ctx, packageID, tripID, travelerUID); ferr == nil && own != nil {
				c.Logger.Debug("resuming existing match", "match_id", own.ID)
				return c.completeProposal(ctx, own)
			}
		}
		if IsConflict(err) {
			observability.MatchConflicts.WithLabelValues(conflictReason(err)).Inc()
		}
		return nil, err
	}

	// Step 2: conditional Match create, the idempotency anchor.
	match, err := c.claimMatch(ctx, pkg, trip, travelerUID)
	if err != nil {
		if IsConflict(err) {
			observability.MatchConflicts.WithLabelValues(conflictReason(err)).Inc()
		}
		return nil, err
	}

	return c.completeProposal(ctx, match)
}

// completeProposal runs steps 3 and 4 of the saga over an already-claimed
// Match. Both steps are idempotent, so a resumed Match passes through the
// ones its first attempt already finished.
func (c *Coordinator) completeProposal(ctx context.Context, match *models.Match) (*models.Match, error) {
	// Step 3: ensure the Conversation exists.
	if err := c.Retry.retry(ctx, func() error {
		return c.ensureConversation(ctx, match)
	}); err != nil {
		return match, c.partial(ctx, match, StepMatchCreated, err)
	}

	// Step 4: promote the Match and project the derived statuses.
	if err := c.Retry.retry(ctx, func() error {
		return c.applyStatuses(ctx, match)
	}); err != nil {
		return match, c.partial(ctx, match, StepConversationEnsured, err)
	}

	observability.MatchesProposed.Inc()
	c.Logger.Info("match proposed",
		"match_id", match.ID, "package_id", match.PackageID, "trip_id", match.TripID, "traveler_uid", match.TravelerUID)
	c.publish(ctx, EventMatchProposed, matchEvent(match))
	c.notify(match.SenderUID, map[string]any{"type": "match", "match_id": match.ID, "package_id": match.PackageID})
	return match, nil
}

// ownClaim looks up the caller's own non-terminal Match for the exact
// (package, trip, traveler) triple, if it is the one holding the claim.
func (c *Coordinator) ownClaim(ctx context.Context, packageID, tripID, travelerUID string) (*models.Match, error) {
	existing, err := c.Store.QueryMatches(ctx, storage.MatchQuery{PackageID: packageID})
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.TripID == tripID && e.TravelerUID == travelerUID && !e.Status.Terminal() {
			return e, nil
		}
	}
	return nil, nil
}

func (c *Coordinator) guard(ctx context.Context, packageID, tripID, travelerUID string) (*models.PackageRequest, *models.TripOffer, error) {
	pkg, err := c.Store.GetPackage(ctx, packageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, validationf("package %s not found", packageID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("guard read package: %w", err)
	}
	trip, err := c.Store.GetTrip(ctx, tripID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, validationf("trip %s not found", tripID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("guard read trip: %w", err)
	}

	if travelerUID != trip.OwnerUID {
		return nil, nil, validationf("traveler %s does not own trip %s", travelerUID, tripID)
	}
	if pkg.OwnerUID == trip.OwnerUID {
		return nil, nil, ErrSelfMatch
	}
	if pkg.Status != models.PackagePending {
		return nil, nil, ErrAlreadyMatched
	}
	if trip.Status.Terminal() {
		return nil, nil, ErrTripFull
	}
	active, err := c.Store.QueryMatches(ctx, storage.MatchQuery{
		TripID:   tripID,
		Statuses: []models.MatchStatus{models.MatchPending, models.MatchAccepted},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("guard count trip matches: %w", err)
	}
	if len(active) >= trip.Capacity {
		return nil, nil, ErrTripFull
	}
	return pkg, trip, nil
}

// claimMatch creates the Match via the conditional write, or resumes the
// caller's own earlier Match when the identical triple already claimed the
// package. Any other claim holder means this caller lost the race.
func (c *Coordinator) claimMatch(ctx context.Context, pkg *models.PackageRequest, trip *models.TripOffer, travelerUID string) (*models.Match, error) {
	m := &models.Match{
		PackageID:   pkg.ID,
		TripID:      trip.ID,
		TravelerUID: travelerUID,
		SenderUID:   pkg.OwnerUID,
		Status:      models.MatchPending,
	}
	err := c.Retry.retry(ctx, func() error {
		_, err := c.Store.CreateMatchIfAbsent(ctx, claimKey(pkg.ID), m)
		return err
	})
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("create match: %w", err)
	}

	own, qerr := c.ownClaim(ctx, pkg.ID, trip.ID, travelerUID)
	if qerr != nil {
		return nil, fmt.Errorf("lookup claimed match: %w", qerr)
	}
	if own != nil {
		c.Logger.Debug("resuming existing match", "match_id", own.ID)
		return own, nil
	}
	return nil, ErrAlreadyMatched
}

func (c *Coordinator) ensureConversation(ctx context.Context, m *models.Match) error {
	pair := models.ParticipantPair(m.SenderUID, m.TravelerUID)
	existing, err := c.Store.QueryConversations(ctx, storage.ConversationQuery{
		Participants: pair,
		PackageID:    m.PackageID,
	})
	if err != nil {
		return fmt.Errorf("query conversations: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = c.Store.CreateConversation(ctx, &models.Conversation{
		ParticipantUIDs: pair,
		PackageID:       m.PackageID,
		TripID:          m.TripID,
	})
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// applyStatuses promotes the Match to accepted and updates the derived
// package/trip projections. Statuses are always recomputable from the Match
// set, so a failure here only delays convergence.
func (c *Coordinator) applyStatuses(ctx context.Context, m *models.Match) error {
	if m.Status == models.MatchPending {
		st := models.MatchAccepted
		if err := c.Store.PatchMatch(ctx, m.ID, storage.MatchPatch{Status: &st}); err != nil {
			return fmt.Errorf("accept match: %w", err)
		}
		m.Status = models.MatchAccepted
	}
	if err := c.projectPackageStatus(ctx, m.PackageID); err != nil {
		return err
	}
	return c.projectTripStatus(ctx, m.TripID)
}

func (c *Coordinator) partial(ctx context.Context, m *models.Match, last Step, cause error) error {
	observability.PartialMatches.Inc()
	c.Logger.Error("saga stopped mid-flight",
		"match_id", m.ID, "last_step", last.String(), "error", cause)
	c.publish(ctx, EventMatchPartial, matchEvent(m))
	return &PartialMatchError{MatchID: m.ID, LastStep: last, Err: cause}
}

// ConfirmDelivery handles the delivery-confirmed quick action: the Match,
// the PackageRequest and the TripOffer converge to completed together, the
// trip only once its last outstanding Match finishes. Idempotent.
func (c *Coordinator) ConfirmDelivery(ctx context.Context, matchID string) (*models.Match, error) {
	m, err := c.Store.GetMatch(ctx, matchID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, validationf("match %s not found", matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	if m.Status.Terminal() {
		return m, nil
	}
	// A match still pending means an earlier saga never finished; resume it
	// before completing.
	if m.Status == models.MatchPending {
		if err := c.Reconcile(ctx, matchID); err != nil {
			return nil, err
		}
		m.Status = models.MatchAccepted
	}

	st := models.MatchCompleted
	if err := c.Retry.retry(ctx, func() error {
		return c.Store.PatchMatch(ctx, m.ID, storage.MatchPatch{Status: &st})
	}); err != nil {
		return m, c.partial(ctx, m, StepStatusesApplied, err)
	}
	m.Status = models.MatchCompleted

	if err := c.Retry.retry(ctx, func() error {
		if err := c.projectPackageStatus(ctx, m.PackageID); err != nil {
			return err
		}
		return c.projectTripStatus(ctx, m.TripID)
	}); err != nil {
		return m, c.partial(ctx, m, StepStatusesApplied, err)
	}

	observability.DeliveriesConfirmed.Inc()
	c.Logger.Info("delivery confirmed", "match_id", m.ID, "package_id", m.PackageID, "trip_id", m.TripID)
	c.publish(ctx, EventDeliveryConfirmed, matchEvent(m))
	c.notify(m.SenderUID, map[string]any{"type": "delivery_confirmed", "match_id": m.ID})
	c.notify(m.TravelerUID, map[string]any{"type": "delivery_confirmed", "match_id": m.ID})
	return m, nil
}

func (c *Coordinator) publish(ctx context.Context, eventType string, payload any) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, eventType, payload); err != nil {
		c.Logger.Warn("event publish failed", "type", eventType, "error", err)
	}
}

func (c *Coordinator) notify(uid string, payload any) {
	if c.Notify == nil {
		return
	}
	_ = c.Notify.Notify(uid, payload)
}

func conflictReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyMatched):
		return "already_matched"
	case errors.Is(err, ErrTripFull):
		return "trip_full"
	case errors.Is(err, ErrSelfMatch):
		return "self_match"
	default:
		return "other"
	}
}
