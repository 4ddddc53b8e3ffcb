package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wick3d/customdomains/internal/dns"
)

const defaultRedisPrefix = "customdomains:tracker"

// RedisTracker stores each domain as a JSON value whose key TTL is the
// transition window. Updates keep the remaining TTL, so marking a domain
// verified never extends its window. Use it when several instances share
// reconciliation work.
type RedisTracker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis creates a RedisTracker. An empty prefix uses the default.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisTracker {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// AddDomain implements Tracker.
func (t *RedisTracker) AddDomain(ctx context.Context, domain, target string, method dns.Method, isPrimary bool) (*DomainRecord, error) {
	rec := &DomainRecord{
		Domain:    domain,
		Target:    target,
		Method:    method,
		IsPrimary: isPrimary,
		AddedAt:   t.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal tracked domain: %w", err)
	}
	if err := t.client.Set(ctx, t.key(domain), data, t.ttl).Err(); err != nil {
		return nil, fmt.Errorf("track domain %s: %w", domain, err)
	}
	return rec, nil
}

// GetDomain implements Tracker.
func (t *RedisTracker) GetDomain(ctx context.Context, domain string) (*DomainRecord, error) {
	data, err := t.client.Get(ctx, t.key(domain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked domain %s: %w", domain, err)
	}
	var rec DomainRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode tracked domain %s: %w", domain, err)
	}
	return &rec, nil
}

// MarkVerified implements Tracker.
func (t *RedisTracker) MarkVerified(ctx context.Context, domain string) error {
	return t.update(ctx, domain, func(rec *DomainRecord) {
		rec.Verified = true
	})
}

// UpdateReputation implements Tracker.
func (t *RedisTracker) UpdateReputation(ctx context.Context, domain string, rep Reputation) error {
	if rep.LastChecked.IsZero() {
		rep.LastChecked = t.now().UTC()
	}
	return t.update(ctx, domain, func(rec *DomainRecord) {
		rec.Reputation = &rep
	})
}

// HasRecentReputationData implements Tracker.
func (t *RedisTracker) HasRecentReputationData(ctx context.Context, domain string, maxAge time.Duration) (bool, error) {
	rec, err := t.GetDomain(ctx, domain)
	if err != nil {
		return false, err
	}
	return recentReputation(rec, maxAge, t.now()), nil
}

// GetAllDomains implements Tracker. Records are sorted by domain.
func (t *RedisTracker) GetAllDomains(ctx context.Context) ([]*DomainRecord, error) {
	keys, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*DomainRecord, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tracked domains: %w", err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var rec DomainRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode tracked domain: %w", err)
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// RemoveDomain implements Tracker.
func (t *RedisTracker) RemoveDomain(ctx context.Context, domain string) error {
	return t.client.Del(ctx, t.key(domain)).Err()
}

// ClearAll implements Tracker. Only keys under the tracker prefix are removed.
func (t *RedisTracker) ClearAll(ctx context.Context) error {
	keys, err := t.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return t.client.Del(ctx, keys...).Err()
}

// update applies fn to the stored record inside an optimistic transaction.
func (t *RedisTracker) update(ctx context.Context, domain string, fn func(*DomainRecord)) error {
	key := t.key(domain)
	return t.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotTracked
		}
		if err != nil {
			return err
		}
		var rec DomainRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode tracked domain %s: %w", domain, err)
		}
		fn(&rec)
		out, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SetArgs(ctx, key, out, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, key)
}

func (t *RedisTracker) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := t.client.Scan(ctx, cursor, t.prefix+":*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan tracked domains: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (t *RedisTracker) key(domain string) string {
	return t.prefix + ":" + domain
}

var (
	_ Tracker = (*MemoryTracker)(nil)
	_ Tracker = (*RedisTracker)(nil)
)
