package models

import "time"

// User carries the profile fields the matching subsystem cares about.
// Rating is the raw running average; use DisplayRating for the rounded form.
type User struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Rating      float64   `json:"rating"`
	ReviewCount int       `json:"review_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type PackageRequest struct {
	ID          string        `json:"id"`
	OwnerUID    string        `json:"owner_uid"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Deadline    time.Time     `json:"deadline"`
	Description string        `json:"description"`
	Size        string        `json:"size"`
	Price       float64       `json:"price"`
	ImageURL    string        `json:"image_url,omitempty"`
	Status      PackageStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

type TripOffer struct {
	ID        string     `json:"id"`
	OwnerUID  string     `json:"owner_uid"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Date      time.Time  `json:"date"`
	Capacity  int        `json:"capacity"`
	Notes     string     `json:"notes,omitempty"`
	Status    TripStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Match links one PackageRequest with one TripOffer. Everything except
// Status is immutable after creation.
type Match struct {
	ID          string      `json:"id"`
	PackageID   string      `json:"package_id"`
	TripID      string      `json:"trip_id"`
	TravelerUID string      `json:"traveler_uid"`
	SenderUID   string      `json:"sender_uid"`
	Status      MatchStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

type Conversation struct {
	ID              string    `json:"id"`
	ParticipantUIDs [2]string `json:"participant_uids"` // unordered pair, stored sorted
	PackageID       string    `json:"package_id,omitempty"`
	TripID          string    `json:"trip_id,omitempty"`
	LastMessage     string    `json:"last_message,omitempty"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type MessageKind string

const (
	MessageText        MessageKind = "text"
	MessageLocation    MessageKind = "location"
	MessageQuickAction MessageKind = "quickAction"
)

// QuickActionDeliveryConfirmed is the quickAction payload that drives the
// delivery-confirmed lifecycle transition.
const QuickActionDeliveryConfirmed = "delivery_confirmed"

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderUID      string      `json:"sender_uid"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	Timestamp      time.Time   `json:"timestamp"`
	Read           bool        `json:"read"`
}

type Review struct {
	ID         string    `json:"id"`
	AuthorUID  string    `json:"author_uid"`
	SubjectUID string    `json:"subject_uid"`
	PackageID  string    `json:"package_id,omitempty"`
	TripID     string    `json:"trip_id,omitempty"`
	Rating     int       `json:"rating"` // 1..5
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ParticipantPair normalizes the two uids of a Conversation so the pair is
// comparable regardless of argument order.
func ParticipantPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}
