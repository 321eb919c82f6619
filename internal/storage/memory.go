package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/parcel-matching/internal/models"
)

// MemoryStore keeps every collection in a map guarded by a single RWMutex.
// Each method body holds the lock for its whole duration, which gives the
// same per-document atomicity the production store offers.
type MemoryStore struct {
	mu            sync.RWMutex
	packages      map[string]models.PackageRequest
	trips         map[string]models.TripOffer
	matches       map[string]models.Match
	claims        map[string]string // claim key -> match id
	conversations map[string]models.Conversation
	messages      map[string]models.Message
	reviews       map[string]models.Review
	users         map[string]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages:      make(map[string]models.PackageRequest),
		trips:         make(map[string]models.TripOffer),
		matches:       make(map[string]models.Match),
		claims:        make(map[string]string),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string]models.Message),
		reviews:       make(map[string]models.Review),
		users:         make(map[string]models.User),
	}
}

func newID() string { return uuid.NewString() }

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (m *MemoryStore) GetPackage(ctx context.Context, id string) (*models.PackageRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) QueryPackages(ctx context.Context, q PackageQuery) ([]*models.PackageRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PackageRequest
	for _, p := range m.packages {
		if q.From != "" && p.From != q.From {
			continue
		}
		if q.To != "" && p.To != q.To {
			continue
		}
		if q.OwnerUID != "" && p.OwnerUID != q.OwnerUID {
			continue
		}
		if q.Status != "" && p.Status != q.Status {
			continue
		}
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func (m *MemoryStore) CreatePackage(ctx context.Context, p *models.PackageRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = stamp(p.CreatedAt)
	m.packages[p.ID] = *p
	return p.ID, nil
}

func (m *MemoryStore) PatchPackage(ctx context.Context, id string, patch PackagePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Size != nil {
		p.Size = *patch.Size
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Deadline != nil {
		p.Deadline = *patch.Deadline
	}
	if patch.ImageURL != nil {
		p.ImageURL = *patch.ImageURL
	}
	m.packages[id] = p
	return nil
}

func (m *MemoryStore) DeletePackage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[id]; !ok {
		return ErrNotFound
	}
	delete(m.packages, id)
	return nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, id string) (*models.TripOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) QueryTrips(ctx context.Context, q TripQuery) ([]*models.TripOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TripOffer
	for _, t := range m.trips {
		if q.From != "" && t.From != q.From {
			continue
		}
		if q.To != "" && t.To != q.To {
			continue
		}
		if q.OwnerUID != "" && t.OwnerUID != q.OwnerUID {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (m *MemoryStore) CreateTrip(ctx context.Context, t *models.TripOffer) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = newID()
	}
	t.CreatedAt = stamp(t.CreatedAt)
	m.trips[t.ID] = *t
	return t.ID, nil
}

func (m *MemoryStore) PatchTrip(ctx context.Context, id string, patch TripPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	m.trips[id] = t
	return nil
}

func (m *MemoryStore) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &mt, nil
}

func (m *MemoryStore) QueryMatches(ctx context.Context, q MatchQuery) ([]*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Match
	for _, mt := range m.matches {
		if q.PackageID != "" && mt.PackageID != q.PackageID {
			continue
		}
		if q.TripID != "" && mt.TripID != q.TripID {
			continue
		}
		if q.TravelerUID != "" && mt.TravelerUID != q.TravelerUID {
			continue
		}
		if !q.matchesStatus(mt.Status) {
			continue
		}
		mt := mt
		out = append(out, &mt)
	}
	return out, nil
}

func (m *MemoryStore) CreateMatchIfAbsent(ctx context.Context, claimKey string, mt *models.Match) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.claims[claimKey]; taken {
		return "", ErrConflict
	}
	if mt.ID == "" {
		mt.ID = newID()
	}
	mt.CreatedAt = stamp(mt.CreatedAt)
	m.claims[claimKey] = mt.ID
	m.matches[mt.ID] = *mt
	return mt.ID, nil
}

func (m *MemoryStore) PatchMatch(ctx context.Context, id string, patch MatchPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Status != nil {
		mt.Status = *patch.Status
	}
	m.matches[id] = mt
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) QueryConversations(ctx context.Context, q ConversationQuery) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zero [2]string
	var out []*models.Conversation
	for _, c := range m.conversations {
		if q.Participants != zero && c.ParticipantUIDs != q.Participants {
			continue
		}
		if q.PackageID != "" && c.PackageID != q.PackageID {
			continue
		}
		c := c
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) CreateConversation(ctx context.Context, c *models.Conversation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = stamp(c.CreatedAt)
	m.conversations[c.ID] = *c
	return c.ID, nil
}

func (m *MemoryStore) PatchConversation(ctx context.Context, id string, patch ConversationPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if patch.LastMessage != nil {
		c.LastMessage = *patch.LastMessage
	}
	if patch.LastMessageAt != nil {
		c.LastMessageAt = *patch.LastMessageAt
	}
	m.conversations[id] = c
	return nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = newID()
	}
	msg.Timestamp = stamp(msg.Timestamp)
	m.messages[msg.ID] = *msg
	return msg.ID, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Message
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		msg := msg
		out = append(out, &msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) MarkMessagesRead(ctx context.Context, conversationID, readerUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.SenderUID != readerUID && !msg.Read {
			msg.Read = true
			m.messages[id] = msg
		}
	}
	return nil
}

func (m *MemoryStore) QueryReviews(ctx context.Context, q ReviewQuery) ([]*models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Review
	for _, r := range m.reviews {
		if q.AuthorUID != "" && r.AuthorUID != q.AuthorUID {
			continue
		}
		if q.SubjectUID != "" && r.SubjectUID != q.SubjectUID {
			continue
		}
		if q.PackageID != "" && r.PackageID != q.PackageID {
			continue
		}
		if q.TripID != "" && r.TripID != q.TripID {
			continue
		}
		r := r
		out = append(out, &r)
	}
	return out, nil
}

func (m *MemoryStore) CreateReview(ctx context.Context, r *models.Review) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = stamp(r.CreatedAt)
	m.reviews[r.ID] = *r
	return r.ID, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, uid string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) PutUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.CreatedAt = stamp(u.CreatedAt)
	m.users[u.UID] = *u
	return nil
}

func (m *MemoryStore) PatchUser(ctx context.Context, uid string, patch UserPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return ErrNotFound
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	if patch.PhotoURL != nil {
		u.PhotoURL = *patch.PhotoURL
	}
	if patch.Rating != nil {
		u.Rating = *patch.Rating
	}
	if patch.ReviewCount != nil {
		u.ReviewCount = *patch.ReviewCount
	}
	m.users[uid] = u
	return nil
}
