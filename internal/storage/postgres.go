package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/parcel-matching/internal/models"
)

// PostgresStore persists each entity kind in its own table and never spans
// two tables in one statement, matching the per-document atomicity the
// coordinator is designed around.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) GetPackage(ctx context.Context, id string) (*models.PackageRequest, error) {
	var pkg models.PackageRequest
	err := p.db.QueryRowContext(ctx,
		`SELECT id, owner_uid, from_loc, to_loc, deadline, description, size, price, image_url, status, created_at
		 FROM packages WHERE id=$1`, id).
		Scan(&pkg.ID, &pkg.OwnerUID, &pkg.From, &pkg.To, &pkg.Deadline, &pkg.Description,
			&pkg.Size, &pkg.Price, &pkg.ImageURL, &pkg.Status, &pkg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (p *PostgresStore) QueryPackages(ctx context.Context, q PackageQuery) ([]*models.PackageRequest, error) {
	where, args := buildWhere(map[string]any{
		"from_loc": q.From, "to_loc": q.To, "owner_uid": q.OwnerUID, "status": string(q.Status),
	})
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, owner_uid, from_loc, to_loc, deadline, description, size, price, image_url, status, created_at
		 FROM packages`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PackageRequest
	for rows.Next() {
		var pkg models.PackageRequest
		if err := rows.Scan(&pkg.ID, &pkg.OwnerUID, &pkg.From, &pkg.To, &pkg.Deadline, &pkg.Description,
			&pkg.Size, &pkg.Price, &pkg.ImageURL, &pkg.Status, &pkg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &pkg)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreatePackage(ctx context.Context, pkg *models.PackageRequest) (string, error) {
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	pkg.CreatedAt = stamp(pkg.CreatedAt)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO packages(id, owner_uid, from_loc, to_loc, deadline, description, size, price, image_url, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		pkg.ID, pkg.OwnerUID, pkg.From, pkg.To, pkg.Deadline, pkg.Description,
		pkg.Size, pkg.Price, pkg.ImageURL, pkg.Status, pkg.CreatedAt)
	return pkg.ID, err
}

func (p *PostgresStore) PatchPackage(ctx context.Context, id string, patch PackagePatch) error {
	sets, args := []string{}, []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Size != nil {
		add("size", *patch.Size)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Deadline != nil {
		add("deadline", *patch.Deadline)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	return p.execOne(ctx,
		fmt.Sprintf(`UPDATE packages SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args)), args...)
}

func (p *PostgresStore) DeletePackage(ctx context.Context, id string) error {
	return p.execOne(ctx, `DELETE FROM packages WHERE id=$1`, id)
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.TripOffer, error) {
	var t models.TripOffer
	err := p.db.QueryRowContext(ctx,
		`SELECT id, owner_uid, from_loc, to_loc, travel_date, capacity, notes, status, created_at
		 FROM trips WHERE id=$1`, id).
		Scan(&t.ID, &t.OwnerUID, &t.From, &t.To, &t.Date, &t.Capacity, &t.Notes, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) QueryTrips(ctx context.Context, q TripQuery) ([]*models.TripOffer, error) {
	where, args := buildWhere(map[string]any{
		"from_loc": q.From, "to_loc": q.To, "owner_uid": q.OwnerUID, "status": string(q.Status),
	})
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, owner_uid, from_loc, to_loc, travel_date, capacity, notes, status, created_at
		 FROM trips`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TripOffer
	for rows.Next() {
		var t models.TripOffer
		if err := rows.Scan(&t.ID, &t.OwnerUID, &t.From, &t.To, &t.Date, &t.Capacity, &t.Notes, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateTrip(ctx context.Context, t *models.TripOffer) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = stamp(t.CreatedAt)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO trips(id, owner_uid, from_loc, to_loc, travel_date, capacity, notes, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.OwnerUID, t.From, t.To, t.Date, t.Capacity, t.Notes, t.Status, t.CreatedAt)
	return t.ID, err
}

func (p *PostgresStore) PatchTrip(ctx context.Context, id string, patch TripPatch) error {
	if patch.Status == nil {
		return nil
	}
	return p.execOne(ctx, `UPDATE trips SET status=$1 WHERE id=$2`, string(*patch.Status), id)
}

func (p *PostgresStore) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	err := p.db.QueryRowContext(ctx,
		`SELECT id, package_id, trip_id, traveler_uid, sender_uid, status, created_at
		 FROM matches WHERE id=$1`, id).
		Scan(&m.ID, &m.PackageID, &m.TripID, &m.TravelerUID, &m.SenderUID, &m.Status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PostgresStore) QueryMatches(ctx context.Context, q MatchQuery) ([]*models.Match, error) {
	where, args := buildWhere(map[string]any{
		"package_id": q.PackageID, "trip_id": q.TripID, "traveler_uid": q.TravelerUID,
	})
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, package_id, trip_id, traveler_uid, sender_uid, status, created_at
		 FROM matches`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.ID, &m.PackageID, &m.TripID, &m.TravelerUID, &m.SenderUID, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		if !q.matchesStatus(m.Status) {
			continue
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateMatchIfAbsent relies on the UNIQUE claim_key column: the insert that
// loses the race affects zero rows and maps to ErrConflict. This is the
// single serialization point between competing proposeMatch calls.
func (p *PostgresStore) CreateMatchIfAbsent(ctx context.Context, claimKey string, m *models.Match) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = stamp(m.CreatedAt)
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO matches(id, claim_key, package_id, trip_id, traveler_uid, sender_uid, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (claim_key) DO NOTHING`,
		m.ID, claimKey, m.PackageID, m.TripID, m.TravelerUID, m.SenderUID, m.Status, m.CreatedAt)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrConflict
	}
	return m.ID, nil
}

func (p *PostgresStore) PatchMatch(ctx context.Context, id string, patch MatchPatch) error {
	if patch.Status == nil {
		return nil
	}
	return p.execOne(ctx, `UPDATE matches SET status=$1 WHERE id=$2`, string(*patch.Status), id)
}

func (p *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	var lastAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT id, participant_a, participant_b, package_id, trip_id, last_message, last_message_at, created_at
		 FROM conversations WHERE id=$1`, id).
		Scan(&c.ID, &c.ParticipantUIDs[0], &c.ParticipantUIDs[1], &c.PackageID, &c.TripID,
			&c.LastMessage, &lastAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastAt.Valid {
		c.LastMessageAt = lastAt.Time
	}
	return &c, nil
}

func (p *PostgresStore) QueryConversations(ctx context.Context, q ConversationQuery) ([]*models.Conversation, error) {
	filters := map[string]any{"package_id": q.PackageID}
	var zero [2]string
	if q.Participants != zero {
		filters["participant_a"] = q.Participants[0]
		filters["participant_b"] = q.Participants[1]
	}
	where, args := buildWhere(filters)
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, participant_a, participant_b, package_id, trip_id, last_message, last_message_at, created_at
		 FROM conversations`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		var lastAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.ParticipantUIDs[0], &c.ParticipantUIDs[1], &c.PackageID, &c.TripID,
			&c.LastMessage, &lastAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		if lastAt.Valid {
			c.LastMessageAt = lastAt.Time
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateConversation(ctx context.Context, c *models.Conversation) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = stamp(c.CreatedAt)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO conversations(id, participant_a, participant_b, package_id, trip_id, last_message, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.ParticipantUIDs[0], c.ParticipantUIDs[1], c.PackageID, c.TripID, c.LastMessage, c.CreatedAt)
	return c.ID, err
}

func (p *PostgresStore) PatchConversation(ctx context.Context, id string, patch ConversationPatch) error {
	sets, args := []string{}, []any{}
	if patch.LastMessage != nil {
		args = append(args, *patch.LastMessage)
		sets = append(sets, fmt.Sprintf("last_message=$%d", len(args)))
	}
	if patch.LastMessageAt != nil {
		args = append(args, *patch.LastMessageAt)
		sets = append(sets, fmt.Sprintf("last_message_at=$%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	return p.execOne(ctx,
		fmt.Sprintf(`UPDATE conversations SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args)), args...)
}

func (p *PostgresStore) CreateMessage(ctx context.Context, m *models.Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Timestamp = stamp(m.Timestamp)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages(id, conversation_id, sender_uid, content, kind, ts, read)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ConversationID, m.SenderUID, m.Content, string(m.Kind), m.Timestamp, m.Read)
	return m.ID, err
}

func (p *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_uid, content, kind, ts, read
		 FROM messages WHERE conversation_id=$1 ORDER BY ts ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderUID, &m.Content, &m.Kind, &m.Timestamp, &m.Read); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkMessagesRead(ctx context.Context, conversationID, readerUID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE messages SET read=TRUE WHERE conversation_id=$1 AND sender_uid<>$2 AND read=FALSE`,
		conversationID, readerUID)
	return err
}

func (p *PostgresStore) QueryReviews(ctx context.Context, q ReviewQuery) ([]*models.Review, error) {
	where, args := buildWhere(map[string]any{
		"author_uid": q.AuthorUID, "subject_uid": q.SubjectUID, "package_id": q.PackageID, "trip_id": q.TripID,
	})
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, author_uid, subject_uid, package_id, trip_id, rating, comment, created_at
		 FROM reviews`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.AuthorUID, &r.SubjectUID, &r.PackageID, &r.TripID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateReview(ctx context.Context, r *models.Review) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = stamp(r.CreatedAt)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO reviews(id, author_uid, subject_uid, package_id, trip_id, rating, comment, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.AuthorUID, r.SubjectUID, r.PackageID, r.TripID, r.Rating, r.Comment, r.CreatedAt)
	return r.ID, err
}

func (p *PostgresStore) GetUser(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx,
		`SELECT uid, display_name, photo_url, rating, review_count, created_at FROM users WHERE uid=$1`, uid).
		Scan(&u.UID, &u.DisplayName, &u.PhotoURL, &u.Rating, &u.ReviewCount, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) PutUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = stamp(u.CreatedAt)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users(uid, display_name, photo_url, rating, review_count, created_at)
		 VALUES($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (uid) DO UPDATE SET display_name=EXCLUDED.display_name, photo_url=EXCLUDED.photo_url`,
		u.UID, u.DisplayName, u.PhotoURL, u.Rating, u.ReviewCount, u.CreatedAt)
	return err
}

func (p *PostgresStore) PatchUser(ctx context.Context, uid string, patch UserPatch) error {
	sets, args := []string{}, []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.DisplayName != nil {
		add("display_name", *patch.DisplayName)
	}
	if patch.PhotoURL != nil {
		add("photo_url", *patch.PhotoURL)
	}
	if patch.Rating != nil {
		add("rating", *patch.Rating)
	}
	if patch.ReviewCount != nil {
		add("review_count", *patch.ReviewCount)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, uid)
	return p.execOne(ctx,
		fmt.Sprintf(`UPDATE users SET %s WHERE uid=$%d`, strings.Join(sets, ", "), len(args)), args...)
}

func (p *PostgresStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func buildWhere(filters map[string]any) (string, []any) {
	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	var conds []string
	var args []any
	for _, col := range cols {
		v := filters[col]
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
