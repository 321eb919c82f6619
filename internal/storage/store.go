package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/parcel-matching/internal/models"
)

var (
	// ErrNotFound is returned when no document matches the given id.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned by conditional creates when the key is taken.
	ErrConflict = errors.New("storage: conflict")
)

// Queries use equality on non-zero fields; zero values are ignored.

type PackageQuery struct {
	From     string
	To       string
	OwnerUID string
	Status   models.PackageStatus
}

type TripQuery struct {
	From     string
	To       string
	OwnerUID string
	Status   models.TripStatus
}

type MatchQuery struct {
	PackageID   string
	TripID      string
	TravelerUID string
	Statuses    []models.MatchStatus // empty means any
}

type ConversationQuery struct {
	Participants [2]string // zero value means any
	PackageID    string
}

type ReviewQuery struct {
	AuthorUID  string
	SubjectUID string
	PackageID  string
	TripID     string
}

// Patches update only the fields whose pointers are non-nil. Each patch is
// applied as a single-document atomic write.

type PackagePatch struct {
	Status      *models.PackageStatus
	Description *string
	Size        *string
	Price       *float64
	Deadline    *time.Time
	ImageURL    *string
}

type TripPatch struct {
	Status *models.TripStatus
}

type MatchPatch struct {
	Status *models.MatchStatus
}

type ConversationPatch struct {
	LastMessage   *string
	LastMessageAt *time.Time
}

type UserPatch struct {
	DisplayName *string
	PhotoURL    *string
	Rating      *float64
	ReviewCount *int
}

type PackageStore interface {
	GetPackage(ctx context.Context, id string) (*models.PackageRequest, error)
	QueryPackages(ctx context.Context, q PackageQuery) ([]*models.PackageRequest, error)
	CreatePackage(ctx context.Context, p *models.PackageRequest) (string, error)
	PatchPackage(ctx context.Context, id string, patch PackagePatch) error
	DeletePackage(ctx context.Context, id string) error
}

type TripStore interface {
	GetTrip(ctx context.Context, id string) (*models.TripOffer, error)
	QueryTrips(ctx context.Context, q TripQuery) ([]*models.TripOffer, error)
	CreateTrip(ctx context.Context, t *models.TripOffer) (string, error)
	PatchTrip(ctx context.Context, id string, patch TripPatch) error
}

type MatchStore interface {
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	QueryMatches(ctx context.Context, q MatchQuery) ([]*models.Match, error)
	// CreateMatchIfAbsent is the one conditional write in the system: the
	// claim key serializes competing saga instances, and the loser gets
	// ErrConflict rather than a second Match.
	CreateMatchIfAbsent(ctx context.Context, claimKey string, m *models.Match) (string, error)
	PatchMatch(ctx context.Context, id string, patch MatchPatch) error
}

type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	QueryConversations(ctx context.Context, q ConversationQuery) ([]*models.Conversation, error)
	CreateConversation(ctx context.Context, c *models.Conversation) (string, error)
	PatchConversation(ctx context.Context, id string, patch ConversationPatch) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) (string, error)
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerUID string) error
}

type ReviewStore interface {
	QueryReviews(ctx context.Context, q ReviewQuery) ([]*models.Review, error)
	CreateReview(ctx context.Context, r *models.Review) (string, error)
}

type UserStore interface {
	GetUser(ctx context.Context, uid string) (*models.User, error)
	PutUser(ctx context.Context, u *models.User) error
	PatchUser(ctx context.Context, uid string, patch UserPatch) error
}

// Store is the full adapter surface consumed by the coordinator and the
// HTTP layer. Implementations promise per-document atomicity only; there
// are no multi-document transactions and no joins.
type Store interface {
	PackageStore
	TripStore
	MatchStore
	ConversationStore
	MessageStore
	ReviewStore
	UserStore
}

func (q MatchQuery) matchesStatus(s models.MatchStatus) bool {
	if len(q.Statuses) == 0 {
		return true
	}
	for _, want := range q.Statuses {
		if s == want {
			return true
		}
	}
	return false
}
