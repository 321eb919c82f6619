package routeindex

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/example/parcel-matching/internal/models"
)

// RedisIndex stores each open document as a JSON blob inside a hash per
// route, one hash for packages and one for trips.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

func NewRedisIndex(addr, password, prefix string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if prefix == "" {
		prefix = "routes"
	}
	return &RedisIndex{client: c, prefix: prefix}
}

func (r *RedisIndex) packagesKey(from, to string) string {
	return r.prefix + ":packages:" + routeKey(from, to)
}

func (r *RedisIndex) tripsKey(from, to string) string {
	return r.prefix + ":trips:" + routeKey(from, to)
}

func (r *RedisIndex) UpsertPackage(ctx context.Context, p *models.PackageRequest) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.packagesKey(p.From, p.To), p.ID, b).Err()
}

func (r *RedisIndex) UpsertTrip(ctx context.Context, t *models.TripOffer) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.tripsKey(t.From, t.To), t.ID, b).Err()
}

func (r *RedisIndex) RemovePackage(ctx context.Context, from, to, id string) error {
	return r.client.HDel(ctx, r.packagesKey(from, to), id).Err()
}

func (r *RedisIndex) RemoveTrip(ctx context.Context, from, to, id string) error {
	return r.client.HDel(ctx, r.tripsKey(from, to), id).Err()
}

func (r *RedisIndex) OpenTripsByRoute(ctx context.Context, from, to string) ([]*models.TripOffer, error) {
	vals, err := r.client.HGetAll(ctx, r.tripsKey(from, to)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*models.TripOffer, 0, len(vals))
	for _, raw := range vals {
		var t models.TripOffer
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		if t.Status != models.TripActive {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

func (r *RedisIndex) OpenPackagesByRoute(ctx context.Context, from, to string) ([]*models.PackageRequest, error) {
	vals, err := r.client.HGetAll(ctx, r.packagesKey(from, to)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*models.PackageRequest, 0, len(vals))
	for _, raw := range vals {
		var p models.PackageRequest
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		if p.Status != models.PackagePending {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (r *RedisIndex) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisIndex) Close() error { return r.client.Close() }
